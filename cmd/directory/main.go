// The directory lambda tracks conversation membership: clients register
// their presence with a TTL and look up who else can be called. Backed by a
// DynamoDB table keyed by conversation_id / member_id.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/huddlechat/huddle/pkg/protocol"
)

// presenceTTL is how long a registration stays valid without a refresh.
const presenceTTL = 10 * time.Minute

var (
	svc       *dynamodb.Client
	tableName string
	logger    = slog.New(slog.NewJSONHandler(os.Stdout, nil))
)

func init() {
	tableName = os.Getenv("TABLE_NAME")
	if tableName == "" {
		logger.Warn("TABLE_NAME env var is empty, defaulting to HuddleDirectory")
		tableName = "HuddleDirectory"
	}

	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		logger.Error("unable to load SDK config", "error", err)
		os.Exit(1)
	}
	svc = dynamodb.NewFromConfig(cfg)
}

// memberItem is the DynamoDB row shape.
type memberItem struct {
	ConversationID string `dynamodbav:"conversation_id"`
	MemberID       string `dynamodbav:"member_id"`
	DisplayName    string `dynamodbav:"display_name"`
	ExpiresAt      int64  `dynamodbav:"expires_at"` // TTL attribute
}

// Handler routes the API Gateway requests.
func Handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := request.RequestContext.HTTP.Method
	logger.Info("processing request", "method", method, "path", request.RequestContext.HTTP.Path)

	switch method {
	case "POST":
		return handleRegister(ctx, request.Body)
	case "GET":
		// Routed as /members/{conversation}.
		conversationID := request.PathParameters["conversation"]
		if conversationID == "" {
			return errorResponse(400, "Missing conversation parameter"), nil
		}
		return handleMembers(ctx, conversationID)
	default:
		return errorResponse(405, "Method Not Allowed"), nil
	}
}

func handleRegister(ctx context.Context, body string) (events.APIGatewayV2HTTPResponse, error) {
	var rec protocol.MemberRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return errorResponse(400, "Invalid JSON body"), nil
	}
	if rec.ConversationID == "" || rec.MemberID == "" {
		return errorResponse(400, "conversation_id and member_id are required"), nil
	}
	if rec.DisplayName == "" {
		rec.DisplayName = rec.MemberID
	}

	item := memberItem{
		ConversationID: rec.ConversationID,
		MemberID:       rec.MemberID,
		DisplayName:    rec.DisplayName,
		ExpiresAt:      time.Now().Add(presenceTTL).Unix(),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		logger.Error("failed to marshal item", "error", err)
		return errorResponse(500, "Internal Server Error"), nil
	}

	if _, err := svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      av,
	}); err != nil {
		logger.Error("failed to put item", "error", err)
		return errorResponse(500, "Failed to save record"), nil
	}

	return events.APIGatewayV2HTTPResponse{
		StatusCode: 200,
		Body:       `{"message": "Registered successfully"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}, nil
}

func handleMembers(ctx context.Context, conversationID string) (events.APIGatewayV2HTTPResponse, error) {
	out, err := svc.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(tableName),
		KeyConditionExpression: aws.String("conversation_id = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: conversationID},
		},
	})
	if err != nil {
		logger.Error("failed to query members", "error", err)
		return errorResponse(500, "Failed to list members"), nil
	}

	// DynamoDB TTL deletion lags; filter expired rows here too.
	now := time.Now().Unix()
	records := make([]protocol.MemberRecord, 0, len(out.Items))
	for _, av := range out.Items {
		var item memberItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			logger.Error("failed to unmarshal item", "error", err)
			continue
		}
		if item.ExpiresAt != 0 && item.ExpiresAt < now {
			continue
		}
		records = append(records, protocol.MemberRecord{
			ConversationID: item.ConversationID,
			MemberID:       item.MemberID,
			DisplayName:    item.DisplayName,
			ExpiresAt:      item.ExpiresAt,
		})
	}

	if len(records) == 0 {
		return errorResponse(404, "Conversation not found"), nil
	}

	responseBody, _ := json.Marshal(records)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: 200,
		Body:       string(responseBody),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}, nil
}

func errorResponse(statusCode int, message string) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: statusCode,
		Body:       fmt.Sprintf(`{"error": "%s"}`, message),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func main() {
	lambda.Start(Handler)
}
