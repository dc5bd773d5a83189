package cdr_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kelvradu/smppgate/internal/cdr"
	"github.com/kelvradu/smppgate/internal/store"
)

func TestStoreProcessorPut(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	p := cdr.NewStoreProcessor(mem, "cdr_detail", "cdr_finalize")

	p.Put(ctx, cdr.Detail{
		Module:      cdr.ModuleSMPPServer,
		MessageType: "MESSAGE",
		MessageID:   "m-1",
		Status:      cdr.StatusReceived,
		Comment:     "Received from SP",
	})

	items, err := mem.ListPop(ctx, "cdr_detail", 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("detail list = %v, %v", items, err)
	}
	var detail cdr.Detail
	if err := json.Unmarshal([]byte(items[0]), &detail); err != nil {
		t.Fatal(err)
	}
	if detail.MessageID != "m-1" || detail.Status != cdr.StatusReceived {
		t.Errorf("detail = %+v", detail)
	}
	if detail.Timestamp == 0 {
		t.Error("timestamp not stamped")
	}
}

func TestStoreProcessorFinalize(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	p := cdr.NewStoreProcessor(mem, "cdr_detail", "cdr_finalize")

	p.Finalize(ctx, "m-9")

	items, err := mem.ListPop(ctx, "cdr_finalize", 10)
	if err != nil || len(items) != 1 || items[0] != "m-9" {
		t.Fatalf("finalize list = %v, %v", items, err)
	}
}
