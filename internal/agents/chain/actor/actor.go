package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/rs/zerolog/log"

	"go-quizagent/internal/agents/chain/handler"
	"go-quizagent/pkg/logger"
	"go-quizagent/pkg/messages"
	"go-quizagent/pkg/models"
)

// Chain owns the status of one /solve request. The driver runs on its own
// goroutine and reports back through the actor's mailbox, so status queries
// are answered while a task is being solved.
type Chain struct {
	ctx     context.Context
	handler *handler.Handler
	chain   models.Chain
}

// New returns a producer for chain actors. ctx bounds every chain they run.
func New(ctx context.Context, h *handler.Handler) actor.Producer {
	return func() actor.Actor {
		return &Chain{
			ctx:     ctx,
			handler: h,
			chain:   models.Chain{State: models.Init, Tasks: []models.TaskRun{}},
		}
	}
}

func (agent *Chain) Receive(ac actor.Context) {
	l := log.With().Fields(map[string]interface{}{logger.ActorIDField: ac.Self().GetId(), logger.AgentNameField: "chain"}).Logger()
	switch msg := ac.Message().(type) {
	case *actor.Started:
		l.Debug().Msg("starting actor")
	case *actor.Stopping:
		l.Debug().Msg("stopping actor")
	case *actor.Stopped:
		l.Debug().Msg("stopped actor")
	case *actor.Restarting:
		l.Debug().Msg("restarting actor")
	case messages.StartChain:
		if agent.chain.State != models.Init {
			l.Warn().Str(logger.ChainField, msg.ChainID).Msg("chain already started")
			return
		}
		l.Info().Str(logger.ChainField, msg.ChainID).Str(logger.TaskField, msg.URL).Msg("starting chain")
		agent.chain.ID = msg.ChainID
		agent.chain.StartURL = msg.URL
		agent.chain.State = models.Running
		go agent.drive(ac.ActorSystem().Root, ac.Self(), msg)
	case messages.TaskStarted:
		agent.chain.State = models.Running
		agent.upsert(msg.Run)
	case messages.TaskFinished:
		agent.chain.State = models.Idle
		agent.upsert(msg.Run)
	case messages.ChainComplete:
		l.Info().Str(logger.ChainField, agent.chain.ID).Msg("work complete!")
		agent.chain.State = models.Finished
	case messages.ReportError:
		l.Error().Str(logger.ChainField, agent.chain.ID).Interface("error", msg.Error).Msg("chain failed")
		agent.chain.State = models.Failed
		e := msg.Error
		agent.chain.Errs = &e
	case messages.GetStatus:
		l.Debug().Str(logger.ChainField, agent.chain.ID).Msg("GetStatus message received")
		ac.Respond(models.Status{Chain: agent.snapshot()})
	default:
		l.Warn().Str(logger.ChainField, agent.chain.ID).Msgf("unknown message: %v", msg)
	}
}

func (agent *Chain) upsert(run models.TaskRun) {
	for i := range agent.chain.Tasks {
		if agent.chain.Tasks[i].ID == run.ID {
			agent.chain.Tasks[i] = run
			return
		}
	}
	agent.chain.Tasks = append(agent.chain.Tasks, run)
}

func (agent *Chain) snapshot() models.Chain {
	c := agent.chain
	c.Tasks = append([]models.TaskRun(nil), agent.chain.Tasks...)
	return c
}

// mailbox relays driver progress to the actor.
type mailbox struct {
	root *actor.RootContext
	self *actor.PID
}

func (m mailbox) TaskStarted(run models.TaskRun)  { m.root.Send(m.self, messages.TaskStarted{Run: run}) }
func (m mailbox) TaskFinished(run models.TaskRun) { m.root.Send(m.self, messages.TaskFinished{Run: run}) }

func (agent *Chain) drive(root *actor.RootContext, self *actor.PID, msg messages.StartChain) {
	box := mailbox{root: root, self: self}
	defer func() {
		if r := recover(); r != nil {
			now := time.Now()
			log.Error().Str(logger.ChainField, msg.ChainID).Interface("panic", r).Msg("chain driver panicked")
			root.Send(self, messages.ReportError{Error: models.Error{Err: fmt.Errorf("panic: %v", r), Message: msg.URL, Time: &now}})
		}
	}()

	chain, err := agent.handler.Run(agent.ctx, msg.ChainID, msg.URL, box)
	if err != nil {
		report := models.Error{Err: err, Message: msg.URL}
		if chain.Errs != nil {
			report = *chain.Errs
		}
		root.Send(self, messages.ReportError{Error: report})
		return
	}
	root.Send(self, messages.ChainComplete{})
}
