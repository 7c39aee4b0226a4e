package magic

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	script := `# training notebook
%ml_init -projectId proj -bucket bkt -scaleTier basic

%%ml_code
import tensorflow as tf

def model():
    return tf.keras.Sequential()

%%ml_run
print("local")
%%ml_run cloud
model().fit()
`
	cmds, err := Parse(strings.NewReader(script))
	require.NoError(t, err)
	require.Len(t, cmds, 4)

	assert.Equal(t, Init, cmds[0].Name)
	assert.Equal(t, []string{"-projectId", "proj", "-bucket", "bkt", "-scaleTier", "basic"}, cmds[0].Args)
	assert.Equal(t, 2, cmds[0].Line)

	assert.Equal(t, Code, cmds[1].Name)
	assert.Equal(t, "import tensorflow as tf\n\ndef model():\n    return tf.keras.Sequential()", cmds[1].Body)

	assert.Equal(t, Run, cmds[2].Name)
	assert.False(t, cmds[2].Cloud())
	assert.Equal(t, `print("local")`, cmds[2].Body)

	assert.True(t, cmds[3].Cloud())
	assert.Equal(t, "model().fit()", cmds[3].Body)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		line   int
	}{
		{"unknown cell magic", "%%ml_deploy\nx", 1},
		{"unknown line magic", "%time x", 1},
		{"stray code", "\nx = 1\n%%ml_code\ny", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.script))
			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.line, perr.Line)
		})
	}
}

func TestCloud_OnlyExactFlag(t *testing.T) {
	assert.False(t, Command{Name: Run, Args: []string{"cloudy"}}.Cloud())
	assert.False(t, Command{Name: Code, Args: []string{"cloud"}}.Cloud())
}
