package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/chordial-bot/chordial/chordial"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := chordial.Version
	originalCommitSHA := chordial.CommitSHA
	originalBuildTime := chordial.BuildTime

	t.Cleanup(
		func() {
			chordial.Version = originalVersion
			chordial.CommitSHA = originalCommitSHA
			chordial.BuildTime = originalBuildTime
		},
	)

	chordial.Version = "1.0.0"
	chordial.CommitSHA = "abc123"
	chordial.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		chordial.Version,
		chordial.CommitSHA,
		chordial.BuildTime,
	)
	assert.Equal(t, expected, output)
}
