package dartle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"invocation error", &InvocationError{joint: errors.New("bad arg")}, ExitTaskFailure},
		{"task failure", &TaskFailureError{TaskName: "build", Cause: errors.New("boom")}, ExitTaskFailure},
		{"multiple errors", &MultipleErrors{Errors: []*TaskFailureError{{TaskName: "build"}}}, ExitInvalidInput},
		{"option error", &OptionError{msg: "unknown flag"}, ExitEngineFailure},
		{"unrecognized error", errors.New("generic"), ExitEngineFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
}
