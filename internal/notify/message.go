package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

// FormatStartupFailure creates the body for a failed receiver startup.
func FormatStartupFailure(stats receiver.Stats, err error) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Stream: %s\n", stats.Stream))
	sb.WriteString(fmt.Sprintf("Status: %s\n", stats.Status))

	var serr *receiver.StartupError
	if errors.As(err, &serr) {
		sb.WriteString(fmt.Sprintf("Step: %s\n", serr.Step))
	}
	if err != nil {
		sb.WriteString(fmt.Sprintf("\nError: %v", err))
	}

	return sb.String()
}

// FormatTransition creates the body for a run-state transition.
func FormatTransition(stream string, rec receiver.TransitionRecord) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Stream: %s\n", stream))
	sb.WriteString(fmt.Sprintf("Run: %d\n", rec.Payload.Run))
	sb.WriteString(fmt.Sprintf("Received: %s", rec.Timestamp.UTC().Format(time.RFC3339)))

	if rec.Payload.Text != "" {
		sb.WriteString(fmt.Sprintf("\n\n%s", rec.Payload.Text))
	}

	return sb.String()
}
