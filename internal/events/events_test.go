package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTopic(t *testing.T) {
	assert.Equal(t, "podviz/jobs/abc", FormatTopic("podviz/jobs/{job_id}", "abc"))
	assert.Equal(t, "fixed", FormatTopic("fixed", "abc"))
}

func TestEventJSONOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Event{Type: JobQueued, JobID: "abc"})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "job.queued", m["type"])
	assert.NotContains(t, m, "error")
	assert.NotContains(t, m, "artifact")
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: JobFailed}))
	p.Close()
}
