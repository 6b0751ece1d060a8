package main

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
)

func TestMemberItemDynamoTags(t *testing.T) {
	item := memberItem{
		ConversationID: "team-standup",
		MemberID:       "alice",
		DisplayName:    "Alice",
		ExpiresAt:      time.Now().Unix(),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		t.Fatalf("Failed to marshal item: %v", err)
	}
	for _, key := range []string{"conversation_id", "member_id", "display_name", "expires_at"} {
		if _, ok := av[key]; !ok {
			t.Errorf("Missing attribute %q in %v", key, av)
		}
	}

	var decoded memberItem
	if err := attributevalue.UnmarshalMap(av, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal item: %v", err)
	}
	if decoded != item {
		t.Errorf("Round trip mismatch: got %+v, want %+v", decoded, item)
	}
}
