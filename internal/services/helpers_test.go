package services

import (
	"testing"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
)

func uuidFrom(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return id
}

func alreadyStarted() error {
	return serviceerror.NewWorkflowExecutionAlreadyStarted("workflow already started", "", "")
}
