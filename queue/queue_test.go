package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid receipt", transportErr("delete", "q", ErrInvalidReceipt), true},
		{"queue not found", transportErr("resolve", "q", ErrQueueNotFound), true},
		{"api receipt invalid", transportErr("delete", "q", &smithy.GenericAPIError{Code: "ReceiptHandleIsInvalid"}), true},
		{"api queue missing", transportErr("delete", "q", &sqstypes.QueueDoesNotExist{}), true},
		{"api throttled", transportErr("delete", "q", &smithy.GenericAPIError{Code: "RequestThrottled"}), false},
		{"entry sender fault", transportErr("delete batch", "q", BatchEntryError{ID: "0", Code: "Whatever", SenderFault: true}), true},
		{"entry service fault", transportErr("delete batch", "q", BatchEntryError{ID: "0", Code: "InternalError"}), false},
		{"entry invalid receipt", fmt.Errorf("wrapped: %w", BatchEntryError{Code: "ReceiptHandleIsInvalid"}), true},
		{"plain", errors.New("connection reset"), false},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Fatalf("IsPermanent(%v)=%v want=%v", tt.err, got, tt.want)
			}
		})
	}
}
