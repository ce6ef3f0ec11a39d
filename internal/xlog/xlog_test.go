package xlog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_WritesToBothSinks(t *testing.T) {
	var human, machine bytes.Buffer
	log := New(WithHumanOutput(&human), WithMachineOutput(&machine))

	log.Emit(Event{Kind: ChunkCompleted, RunID: "run-1", StationKey: "hupsel", Year: 2024, Fields: Fields{"bytes": 100}})
	log.Close()

	assert.Contains(t, human.String(), "chunk_completed")
	assert.Contains(t, machine.String(), "chunk_completed")
}

func TestEmit_MachineSinkIsValidJSONL(t *testing.T) {
	var machine bytes.Buffer
	log := New(WithMachineOutput(&machine))

	log.Emit(Event{Kind: RunComplete, RunID: "run-1", Fields: Fields{"completed": 3}})
	log.Close()

	line := strings.TrimSpace(machine.String())
	var record map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "run_complete", record["event"])
	assert.Equal(t, "run-1", record["run_id"])
}

func TestEmit_ErrorLevelRoutesToErrorWriter(t *testing.T) {
	var human bytes.Buffer
	log := New(WithHumanOutput(&human))

	log.Emit(Event{Kind: ChunkFailed, RunID: "run-1", Fields: Fields{"level": "error", "error": "boom"}})
	log.Close()

	// The errorRoutedWriter steers level=error records to os.Stderr instead
	// of the configured human writer, so nothing should land in our buffer.
	assert.Empty(t, human.String())
}

func TestClose_DrainsPendingEventsBeforeReturning(t *testing.T) {
	var machine bytes.Buffer
	log := New(WithMachineOutput(&machine))

	for i := 0; i < 50; i++ {
		log.Emit(Event{Kind: ChunkAttempt, RunID: "run-1", Year: 2020 + i%5})
	}
	log.Close()

	lines := strings.Split(strings.TrimSpace(machine.String()), "\n")
	assert.Len(t, lines, 50)
}

func TestEmit_DoesNotBlockWhenBufferIsSmall(t *testing.T) {
	log := New(WithBufferSize(1))
	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			log.Emit(Event{Kind: ChunkAttempt, RunID: "run-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked with a small buffer and an active drain goroutine")
	}
	log.Close()
}
