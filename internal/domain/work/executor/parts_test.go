// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/domain/work/ordertype"
	"github.com/ManuGH/foreman/internal/domain/work/store"
)

// report is a part-based test type: agents deliver a summary and a detail
// part which are merged into the item result at finalize time.
type report struct{}

func (r *report) Type() string { return "report" }

func (r *report) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"subject"},
		"properties": map[string]any{
			"subject": map[string]any{"type": "string", "minLength": 1},
		},
	}
}

func (r *report) Plan(order *model.Order) ([]model.ItemSpec, error) {
	return []model.ItemSpec{
		{
			Type:          "report",
			Input:         map[string]any{"subject": order.Payload["subject"]},
			PartsRequired: []string{"summary", "detail"},
		},
	}, nil
}

func (r *report) AcceptancePolicy() ordertype.AcceptancePolicy { return reportPolicy{} }

func (r *report) Apply(ctx context.Context, order *model.Order, items []*model.Item) (*model.Diff, error) {
	return model.NewDiff(nil, map[string]any{"published": true}, "report published"), nil
}

// PartialRules rejects parts without a body.
func (r *report) PartialRules(item *model.Item, partKey string, seq *int, payload map[string]any) error {
	if len(payload) == 0 {
		return &model.ValidationError{Errors: []model.FieldError{{
			Field: partKey, Code: "empty", Message: "part payload must not be empty",
		}}}
	}
	return nil
}

type reportPolicy struct{}

func (reportPolicy) ValidateSubmission(item *model.Item, result map[string]any) error { return nil }

func (reportPolicy) ReadyForApproval(order *model.Order, items []*model.Item) bool {
	for _, it := range items {
		switch it.State {
		case model.ItemSubmitted, model.ItemAccepted, model.ItemCompleted:
		default:
			return false
		}
	}
	return len(items) > 0
}

func (h *harness) submitPart(t *testing.T, itemID, key string, seq *int, payload map[string]any) *SubmitPartResponse {
	t.Helper()
	resp, err := h.exec.SubmitPart(context.Background(), SubmitPartRequest{
		ItemID:  itemID,
		PartKey: key,
		Seq:     seq,
		Payload: payload,
		AgentID: "agent-1",
	})
	require.NoError(t, err)
	return resp
}

func seqPtr(n int) *int { return &n }

func TestSubmitPartStoresValidated(t *testing.T) {
	h := newHarness(t, &report{})
	ctx := context.Background()
	_, item := h.proposeAndLease(t, "report", map[string]any{"subject": "q3"})

	resp := h.submitPart(t, item.ID, "summary", seqPtr(1), map[string]any{"text": "all good"})
	assert.Equal(t, model.PartValidated, resp.Part.Status)
	assert.NotEmpty(t, resp.Part.Checksum)
	require.Contains(t, resp.PartsState, "summary")
	assert.Equal(t, model.PartValidated, resp.PartsState["summary"].Status)

	// The item itself does not transition on a part.
	assert.Equal(t, model.ItemLeased, h.getItem(t, item.ID).State)

	events, err := h.exec.Machine.Store.ListEvents(ctx, h.exec.Machine.Store.DB, store.EventFilter{ItemID: item.ID})
	require.NoError(t, err)
	kinds := make([]string, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	assert.Contains(t, kinds, string(lifecycle.EvPartSubmitted))
	assert.Contains(t, kinds, string(lifecycle.EvPartValidated))
}

func TestSubmitPartRejectedIsPersisted(t *testing.T) {
	h := newHarness(t, &report{})
	ctx := context.Background()
	_, item := h.proposeAndLease(t, "report", map[string]any{"subject": "q3"})

	_, err := h.exec.SubmitPart(ctx, SubmitPartRequest{
		ItemID:  item.ID,
		PartKey: "summary",
		Payload: map[string]any{},
		AgentID: "agent-1",
	})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))

	// The rejected part is stored for audit even though the call failed.
	parts, err := h.exec.ListParts(ctx, item.ID, store.PartFilter{Status: model.PartRejected})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "summary", parts[0].PartKey)
	assert.NotEmpty(t, parts[0].Errors)

	got := h.getItem(t, item.ID)
	assert.Equal(t, model.PartRejected, got.PartsState["summary"].Status)

	events, err := h.exec.Machine.Store.ListEvents(ctx, h.exec.Machine.Store.DB, store.EventFilter{
		ItemID: item.ID, Kind: string(lifecycle.EvPartRejected),
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSubmitPartLeaseChecks(t *testing.T) {
	h := newHarness(t, &report{})
	_, item := h.proposeAndLease(t, "report", map[string]any{"subject": "q3"})

	_, err := h.exec.SubmitPart(context.Background(), SubmitPartRequest{
		ItemID:  item.ID,
		PartKey: "summary",
		Payload: map[string]any{"text": "x"},
		AgentID: "intruder",
	})
	assert.ErrorIs(t, err, model.ErrLeaseConflict)
}

func TestFinalizeStrictReportsMissingAndUnexpected(t *testing.T) {
	h := newHarness(t, &report{})
	ctx := context.Background()
	_, item := h.proposeAndLease(t, "report", map[string]any{"subject": "q3"})

	h.submitPart(t, item.ID, "summary", seqPtr(1), map[string]any{"text": "done"})
	h.submitPart(t, item.ID, "appendix", seqPtr(1), map[string]any{"text": "extra"})

	_, err := h.exec.FinalizeItem(ctx, FinalizeRequest{ItemID: item.ID})
	require.Error(t, err)
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)

	codes := map[string]string{}
	for _, fe := range ve.Errors {
		codes[fe.Field] = fe.Code
	}
	assert.Equal(t, "missing_part", codes["detail"])
	assert.Equal(t, "unexpected_part", codes["appendix"])

	assert.Equal(t, model.ItemLeased, h.getItem(t, item.ID).State, "a failed finalize leaves the item untouched")
}

func TestFinalizeStrictAssemblesAndSubmits(t *testing.T) {
	h := newHarness(t, &report{})
	ctx := context.Background()
	order, item := h.proposeAndLease(t, "report", map[string]any{"subject": "q3"})

	h.submitPart(t, item.ID, "summary", seqPtr(1), map[string]any{"text": "done"})
	h.submitPart(t, item.ID, "detail", seqPtr(1), map[string]any{"rows": float64(42)})

	resp, err := h.exec.FinalizeItem(ctx, FinalizeRequest{ItemID: item.ID})
	require.NoError(t, err)
	assert.Equal(t, model.ItemSubmitted, resp.Item.State)

	assembled := resp.Item.AssembledResult
	require.Contains(t, assembled, "summary")
	require.Contains(t, assembled, "detail")

	assert.Equal(t, model.OrderSubmitted, h.getOrder(t, order.ID).State)

	events, err := h.exec.Machine.Store.ListEvents(ctx, h.exec.Machine.Store.DB, store.EventFilter{
		ItemID: item.ID, Kind: string(lifecycle.EvFinalized),
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestFinalizeBestEffortTakesWhatIsThere(t *testing.T) {
	h := newHarness(t, &report{})
	ctx := context.Background()
	_, item := h.proposeAndLease(t, "report", map[string]any{"subject": "q3"})

	h.submitPart(t, item.ID, "summary", seqPtr(1), map[string]any{"text": "partial"})

	resp, err := h.exec.FinalizeItem(ctx, FinalizeRequest{
		ItemID: item.ID,
		Mode:   model.FinalizeBestEffort,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ItemSubmitted, resp.Item.State)
	assert.Contains(t, resp.Item.AssembledResult, "summary")
	assert.NotContains(t, resp.Item.AssembledResult, "detail")
}

func TestFinalizeLatestSeqWins(t *testing.T) {
	h := newHarness(t, &report{})
	ctx := context.Background()
	_, item := h.proposeAndLease(t, "report", map[string]any{"subject": "q3"})

	h.submitPart(t, item.ID, "summary", seqPtr(1), map[string]any{"text": "draft"})
	h.submitPart(t, item.ID, "summary", seqPtr(2), map[string]any{"text": "final"})
	h.submitPart(t, item.ID, "detail", seqPtr(1), map[string]any{"rows": float64(1)})

	resp, err := h.exec.FinalizeItem(ctx, FinalizeRequest{ItemID: item.ID})
	require.NoError(t, err)

	summary, ok := resp.Item.AssembledResult["summary"].(map[string]any)
	require.True(t, ok, "assembled value is the part payload, got %T", resp.Item.AssembledResult["summary"])
	assert.Equal(t, "final", summary["text"])
}

func TestPartChecksumDeterministic(t *testing.T) {
	a := PartChecksum(map[string]any{"b": 2, "a": 1})
	b := PartChecksum(map[string]any{"a": 1, "b": 2})
	assert.Equal(t, a, b, "key order does not change the canonical form")
	assert.NotEqual(t, a, PartChecksum(map[string]any{"a": 1, "b": 3}))
	assert.Len(t, a, 64)
}

func TestListPartsFilters(t *testing.T) {
	h := newHarness(t, &report{})
	ctx := context.Background()
	_, item := h.proposeAndLease(t, "report", map[string]any{"subject": "q3"})

	for i := 1; i <= 3; i++ {
		h.submitPart(t, item.ID, "summary", seqPtr(i), map[string]any{"rev": fmt.Sprintf("r%d", i)})
	}
	h.submitPart(t, item.ID, "detail", seqPtr(1), map[string]any{"rows": float64(7)})

	all, err := h.exec.ListParts(ctx, item.ID, store.PartFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	summaries, err := h.exec.ListParts(ctx, item.ID, store.PartFilter{PartKey: "summary"})
	require.NoError(t, err)
	assert.Len(t, summaries, 3)

	_, err = h.exec.ListParts(ctx, "no-such-item", store.PartFilter{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}
