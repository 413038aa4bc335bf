package logger

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"os"
)

const (
	AgentNameField = "agent"
	ChainField     = "chain"
	TaskField      = "task"
	TaskIndexField = "task_index"
	ActorIDField   = "actor"
	StateField     = "state"
	ToolField      = "tool"
	IterationField = "iteration"
	AttemptField   = "attempt"
	ElapsedField   = "elapsed"
)

func NewGlobal(level string, pretty bool) error {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}

	zerolog.SetGlobalLevel(l)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}
