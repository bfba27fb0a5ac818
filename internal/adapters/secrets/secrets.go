// Package secrets decodes JSON documents held in AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var (
	ErrNoName       = errors.New("secret name is empty")
	ErrBinarySecret = errors.New("binary secrets are not supported")
)

type getter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Store reads secrets by name.
type Store struct {
	api getter
}

// NewStore uses the default AWS credential chain, the execution role when
// running in Lambda.
func NewStore(ctx context.Context) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Store{api: secretsmanager.NewFromConfig(cfg)}, nil
}

// Decode unmarshals the string value of secret name into v. Unknown fields
// are rejected so a misnamed key fails at startup.
func (s *Store) Decode(ctx context.Context, name string, v any) error {
	if name == "" {
		return ErrNoName
	}
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		return fmt.Errorf("get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return fmt.Errorf("secret %s: %w", name, ErrBinarySecret)
	}

	dec := json.NewDecoder(strings.NewReader(*out.SecretString))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode secret %s: %w", name, err)
	}
	return nil
}

// Credentials authenticate the engine against the channel token endpoint.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Validate lists every missing field.
func (c Credentials) Validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("client_id is required"))
	}
	if c.ClientSecret == "" {
		errs = append(errs, errors.New("client_secret is required"))
	}
	return errors.Join(errs...)
}

// Credentials loads and validates the channel credentials stored under name.
func (s *Store) Credentials(ctx context.Context, name string) (Credentials, error) {
	var creds Credentials
	if err := s.Decode(ctx, name, &creds); err != nil {
		return Credentials{}, err
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("secret %s: %w", name, err)
	}
	return creds, nil
}
