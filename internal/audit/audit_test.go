package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/pisafe/pisafe/internal/types"
	"github.com/rs/zerolog"
)

func entry(id string) types.AuditEntry {
	return types.AuditEntry{
		AlertID:     id,
		DecodedText: "should not be kept",
		Encrypted:   types.EncryptedAlert{Ciphertext: []byte{1, 2, 3}, CreatedAt: time.Unix(1_700_000_000, 0)},
		Source:      types.SourceExternal,
		Area:        "front",
		Timestamp:   time.Unix(1_700_000_001, 0),
		Report: types.DispatchReport{AlertID: id, Channels: map[string]types.ChannelResult{
			"sms":  {OK: true, Targets: 2, Delivered: 2},
			"push": {OK: false, Error: "TIMEOUT", Targets: 1},
		}},
	}
}

func TestMemorySinkRing(t *testing.T) {
	m := NewMemorySink(3)
	ctx := context.Background()
	if got := m.Recent(10); len(got) != 0 {
		t.Fatalf("empty sink returned %d entries", len(got))
	}
	for i := 1; i <= 5; i++ {
		m.Record(ctx, entry(fmt.Sprintf("a%d", i)))
	}

	got := m.Recent(10)
	if len(got) != 3 || m.Len() != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].AlertID != "a5" || got[2].AlertID != "a3" {
		t.Fatalf("order = %s..%s, want a5..a3", got[0].AlertID, got[2].AlertID)
	}
	if got[0].DecodedText != "" {
		t.Fatal("memory sink must not keep plaintext")
	}
	if got := m.Recent(1); len(got) != 1 || got[0].AlertID != "a5" {
		t.Fatalf("Recent(1) = %+v", got)
	}
}

type fakeDynamo struct {
	inputs []*dynamodb.PutItemInput
	err    error
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoSinkRecord(t *testing.T) {
	client := &fakeDynamo{}
	sink := &DynamoSink{Client: client, TableName: "pisafe-audit"}

	if err := sink.Record(context.Background(), entry("a1")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(client.inputs) != 1 || aws.ToString(client.inputs[0].TableName) != "pisafe-audit" {
		t.Fatalf("unexpected PutItem calls %+v", client.inputs)
	}

	var item auditItem
	if err := attributevalue.UnmarshalMap(client.inputs[0].Item, &item); err != nil {
		t.Fatalf("UnmarshalMap: %v", err)
	}
	if item.AlertID != "a1" || len(item.Ciphertext) != 3 || item.Area != "front" {
		t.Fatalf("item = %+v", item)
	}
	if item.Channels["push"].Error != "TIMEOUT" || !item.Channels["sms"].OK {
		t.Fatalf("channels = %+v", item.Channels)
	}
	if item.ExpiresAt <= time.Unix(1_700_000_001, 0).Unix() {
		t.Fatal("expires_at should be in the future of the entry")
	}
	if _, ok := client.inputs[0].Item["decoded_text"]; ok {
		t.Fatal("plaintext must not be persisted")
	}
}

type failingSink struct{}

func (failingSink) Name() string { return "broken" }
func (failingSink) Record(context.Context, types.AuditEntry) error {
	return errors.New("disk full")
}

func TestMultiContinuesAfterFailure(t *testing.T) {
	mem := NewMemorySink(10)
	multi := NewMulti(zerolog.Nop(), failingSink{}, mem, NewLogSink(zerolog.Nop()))

	err := multi.Record(context.Background(), entry("a1"))
	if err == nil {
		t.Fatal("expected joined error")
	}
	if mem.Len() != 1 {
		t.Fatal("later sinks must still be written")
	}
}
