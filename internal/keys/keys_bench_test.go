package keys

import "testing"

func BenchmarkQueueName(b *testing.B) {
	cases := []struct {
		name string
		key  string
	}{
		{"Stream", "sluice:{tasks}:stream"},
		{"Done", "sluice:{tasks}:done:8b7c"},
		{"NoBraces", "sluice:tasks:stream"},
		{"MissingRight", "sluice:{tasks:stream"},
		{"MissingLeft", "sluice:tasks}:stream"},
		{"Long", "sluice:{a-very-long-queue-name-with-many-segments}:stream"},
		{"EmptyBraces", "sluice:{}:stream"},
		{"JustBraces", "{}"},
		{"Empty", ""},
	}
	for _, c := range cases {
		b.Run(c.name, func(b *testing.B) {
			b.ReportAllocs()
			var sink string
			for i := 0; i < b.N; i++ {
				sink = QueueName(c.key)
			}
			_ = sink
		})
	}
}
