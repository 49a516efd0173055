package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/AgilWave/examina-proctor/internal/roster"
	"github.com/AgilWave/examina-proctor/internal/session"
	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{1500 * time.Millisecond, "2s"},
		{2*time.Minute + 5*time.Second, "2m 5s"},
		{3*time.Hour + 4*time.Minute, "3h 4m 0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}

func TestSummaryCountsHandsAndConnections(t *testing.T) {
	out := SummaryView(SessionSummary{
		ExamID:   "EXAM-1",
		Role:     "lecturer",
		Duration: 90 * time.Second,
		Participants: []session.ParticipantView{
			{Participant: roster.Participant{ID: "s1", HandRaised: true}, Connected: true},
			{Participant: roster.Participant{ID: "s2"}, Connected: true},
			{Participant: roster.Participant{ID: "s3"}},
		},
		Messages: 4,
	})

	assert.Contains(t, out, "EXAM-1")
	assert.Contains(t, out, "1m 30s")
	assert.Regexp(t, `Live connections\s*│\s*2`, out)
	assert.Regexp(t, `Unanswered hands\s*│\s*1`, out)
}

func TestPrintHelpersWriteOneLine(t *testing.T) {
	var buf bytes.Buffer
	prev := out
	out = &buf
	t.Cleanup(func() { out = prev })

	PrintWarningf("camera %s busy", "cam-1")
	PrintInfo("relay listening")

	assert.Contains(t, buf.String(), "camera cam-1 busy")
	assert.Contains(t, buf.String(), IconInfo+" relay listening\n")
}
