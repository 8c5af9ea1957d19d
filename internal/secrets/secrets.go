// Package secrets retrieves the Splunk credential blob from AWS
// Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"obscatalog/internal/source/splunk"
)

// Client wraps the Secrets Manager API surface used here; the concrete
// SDK client satisfies it and tests substitute a fake.
type Client interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewClient constructs a Secrets Manager client from the ambient AWS
// configuration.
func NewClient(ctx context.Context, region string) (Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

// flexiblePort tolerates the port being stored as either a number or
// a string, which existing secrets do.
type flexiblePort int

func (p *flexiblePort) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %q", s)
	}
	*p = flexiblePort(n)
	return nil
}

type secretPayload struct {
	Host     string       `json:"host"`
	Port     flexiblePort `json:"port"`
	Username string       `json:"username"`
	Password string       `json:"password"`
	Scheme   string       `json:"scheme"`
}

// SplunkCredentials fetches and decodes the named secret.
func SplunkCredentials(ctx context.Context, client Client, secretName string) (splunk.Credentials, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretName})
	if err != nil {
		return splunk.Credentials{}, fmt.Errorf("get secret %s: %w", secretName, err)
	}
	if out.SecretString == nil {
		return splunk.Credentials{}, fmt.Errorf("secret %s has no string payload", secretName)
	}
	var payload secretPayload
	if err := json.Unmarshal([]byte(*out.SecretString), &payload); err != nil {
		return splunk.Credentials{}, fmt.Errorf("decode secret %s: %w", secretName, err)
	}
	return splunk.Credentials{
		Host:     payload.Host,
		Port:     int(payload.Port),
		Username: payload.Username,
		Password: payload.Password,
		Scheme:   payload.Scheme,
	}, nil
}
