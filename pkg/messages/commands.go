package messages

import (
	"go-quizagent/pkg/models"
)

type StartChain struct {
	ChainID string
	URL     string
}

type TaskStarted struct {
	Run models.TaskRun
}

type TaskFinished struct {
	Run models.TaskRun
}

type ChainComplete struct{}

type GetStatus struct{}

type ReportError struct {
	Error models.Error
}
