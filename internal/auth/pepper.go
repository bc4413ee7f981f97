package auth

import (
	"context"
	"encoding/base64"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "google.golang.org/genproto/googleapis/cloud/secretmanager/v1"
)

// PepperFromSecret fetches the password pepper from Google Secrets Manager.
//
// Environmental variables feel like asking for a leak; in production the
// pepper should live in a secret and only its id in the environment.
func PepperFromSecret(ctx context.Context, projectID, secretID string) ([]byte, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access secret version: %w", err)
	}

	return result.Payload.Data, nil
}

// DecodePepper decodes a base64 pepper taken from the environment.
func DecodePepper(b64Data string) ([]byte, error) {
	pepper, err := base64.URLEncoding.DecodeString(b64Data)
	if err != nil {
		return nil, err
	}
	if len(pepper) == 0 {
		return nil, fmt.Errorf("pepper is empty")
	}
	return pepper, nil
}
