package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageKeys(t *testing.T) {
	assert.Equal(t, "miner_queue", StageMiner.Queue())
	assert.Equal(t, "ocr_result:p1", StageOCR.ResultKey("p1"))
	assert.Equal(t, "EM_LAST_SUCCESS", StageEM.LastSuccessKey())
	assert.Equal(t, "EM_LAST_ERROR", StageEM.LastErrorKey())

	stage, ok := ParseStage(" EM ")
	assert.True(t, ok)
	assert.Equal(t, StageEM, stage)
	_, ok = ParseStage("billing")
	assert.False(t, ok)
}

func TestDecodeTaskFlatWireShape(t *testing.T) {
	raw := []byte(`{"patientId":"p1","sasToken":"sv=1","insurance":"Aetna","traceDto":{"traceId":"t"},"returnHeaders":{"X-Tenant":"a"}}`)

	task, err := DecodeTask(StageMiner, raw)
	require.NoError(t, err)
	miner, ok := task.(*MinerTask)
	require.True(t, ok)
	assert.Equal(t, "p1", miner.PatientID)
	assert.Equal(t, "sv=1", miner.SASToken)
	assert.Equal(t, "Aetna", miner.Insurance)
	assert.Equal(t, "t", miner.TraceDTO["traceId"])
	assert.Equal(t, "a", miner.ReturnHeaders["X-Tenant"])
	assert.NoError(t, task.Validate())
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, (&EmTask{Text: "x"}).Validate(), ErrInvalidTask)
	assert.ErrorIs(t, (&EmTask{Header: Header{PatientID: "p"}}).Validate(), ErrInvalidTask)
	assert.ErrorIs(t, (&OcrTask{Header: Header{PatientID: "p"}}).Validate(), ErrInvalidTask)
	assert.NoError(t, (&OcrTask{Header: Header{PatientID: "p"}, BlobLocation: BlobLocation{BlobSASToken: "t"}}).Validate())
}

func TestFingerprintIgnoresAttempt(t *testing.T) {
	a := emTask("p1", "chart")
	b := emTask("p1", "chart")
	b.TaskID = "other"
	b.Attempt = 4

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	fc, err := Fingerprint(emTask("p1", "different chart"))
	require.NoError(t, err)
	assert.NotEqual(t, fa, fc)
}

func TestEnqueueAssignsTaskID(t *testing.T) {
	store, mr := newTestStore(t)
	task := emTask("p1", "chart")

	require.NoError(t, NewEnqueuer(store, time.Hour).Enqueue(context.Background(), task))
	assert.NotEmpty(t, task.TaskID)

	list, _ := mr.List(StageEM.Queue())
	require.Len(t, list, 1)
	assert.Contains(t, list[0], task.TaskID)
}

func TestEnqueueRejectsInvalidTask(t *testing.T) {
	store, mr := newTestStore(t)
	err := NewEnqueuer(store, time.Hour).Enqueue(context.Background(), emTask("", "chart"))
	assert.ErrorIs(t, err, ErrInvalidTask)
	assert.False(t, mr.Exists(StageEM.Queue()))
}

func TestEnqueueOnceSuppressesDuplicates(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	enq := NewEnqueuer(store, time.Hour)

	pushed, err := enq.EnqueueOnce(ctx, emTask("p1", "chart"))
	require.NoError(t, err)
	assert.True(t, pushed)

	pushed, err = enq.EnqueueOnce(ctx, emTask("p1", "chart"))
	require.NoError(t, err)
	assert.False(t, pushed)

	pushed, err = enq.EnqueueOnce(ctx, emTask("p2", "chart"))
	require.NoError(t, err)
	assert.True(t, pushed)

	list, _ := mr.List(StageEM.Queue())
	assert.Len(t, list, 2)
}

func TestInspectorPositionAndSnapshot(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	enq := NewEnqueuer(store, time.Hour)
	for _, pid := range []string{"a", "b", "c"} {
		require.NoError(t, enq.Enqueue(ctx, emTask(pid, "chart "+pid)))
	}
	mr.RPush(StageEM.Queue(), "garbage")

	inspector := NewInspector(store)
	pos, found, err := inspector.Position(ctx, StageEM, "b")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, pos)

	_, found, err = inspector.Position(ctx, StageEM, "zzz")
	require.NoError(t, err)
	assert.False(t, found)

	snap, err := inspector.Snapshot(ctx, StageEM, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), snap.Length)
	require.Len(t, snap.Items, 4)
	assert.Equal(t, "a", snap.Items[0].PatientID)
	assert.True(t, snap.Items[0].HasText)
	assert.Equal(t, len("chart a"), snap.Items[0].TextLength)
	assert.Equal(t, "undecodable task", snap.Items[3].Error)
	assert.Nil(t, snap.LastSuccess)

	list, _ := mr.List(StageEM.Queue())
	assert.Len(t, list, 4)
}
