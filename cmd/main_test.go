package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MimeLyc/cloudml-magic/internal/cli"
	"github.com/MimeLyc/cloudml-magic/internal/service"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 2, exitCode(&cli.ExitError{Code: 2, Message: "bad flag"}))
	assert.Equal(t, 130, exitCode(fmt.Errorf("tail: %w", context.Canceled)))
	assert.Equal(t, 1, exitCode(service.WrapError(errors.New("boom"), service.ErrAPI, "create job")))
	assert.Equal(t, 1, exitCode(errors.New("plain")))
}
