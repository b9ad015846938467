package keys

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyFormats(t *testing.T) {
	require.Equal(t, "sluice:{tasks}:stream", Stream("tasks"))
	require.Equal(t, "sluice:{tasks}:done:r1", Done("tasks", "r1"))
	require.Equal(t, "sluice:{tasks}:status:1-0", Status("tasks", "1-0"))
	require.Equal(t, "sluice:artifact:abc", Artifact("abc"))
}

func TestQueueName(t *testing.T) {
	require.Equal(t, "tasks", QueueName(Stream("tasks")))
	require.Equal(t, "tasks", QueueName(Done("tasks", "r1")))
	require.Equal(t, "", QueueName("sluice:artifact:abc"))
	require.Equal(t, "", QueueName("sluice:{}:stream"))
	require.Equal(t, "", QueueName("sluice:{broken"))
}
