// The turn-auth lambda mints ephemeral TURN credentials using the coturn
// use-auth-secret scheme: username is an expiry timestamp and the password
// is an HMAC over it, so the relay can verify credentials without a user
// database.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/huddlechat/huddle/pkg/protocol"
)

const credentialTTL = 3600 // seconds

func handleRequest(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	secretKey := os.Getenv("TURN_SECRET_KEY")
	if secretKey == "" {
		return errorResponse(500, "Server misconfigured (missing secret)"), nil
	}
	turnURI := os.Getenv("TURN_URI")
	if turnURI == "" {
		return errorResponse(500, "Server misconfigured (missing relay uri)"), nil
	}

	// coturn use-auth-secret: the timestamp prefix is the expiry the relay
	// enforces; the suffix is informational.
	expiration := time.Now().Add(credentialTTL * time.Second).Unix()
	username := fmt.Sprintf("%d:huddle-user", expiration)

	mac := hmac.New(sha1.New, []byte(secretKey))
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	creds := protocol.TurnCredentials{
		Username: username,
		Password: password,
		TTL:      credentialTTL,
		URIs: []string{
			"turn:" + turnURI + "?transport=udp",
			"turn:" + turnURI + "?transport=tcp",
		},
	}

	body, _ := json.Marshal(creds)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: 200,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: string(body),
	}, nil
}

func errorResponse(code int, msg string) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: code,
		Body:       fmt.Sprintf(`{"error":"%s"}`, msg),
	}
}

func main() {
	lambda.Start(handleRequest)
}
