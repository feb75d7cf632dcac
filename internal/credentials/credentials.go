// Package credentials resolves the AWS credentials used to read one input's bucket.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// SessionName is the role session name used for every assume-role exchange.
const SessionName = "trailpipe-import"

// SessionDuration is requested for every assumed-role session. The SDK
// refreshes the session when it nears expiry.
const SessionDuration = time.Hour

// Credential sources, in precedence order.
const (
	SourceOverrideKeys = "override-keys"
	SourceOverrideRole = "override-role"
	SourceInputRole    = "input-role"
	SourceInputKeys    = "input-keys"
	SourceDefaultChain = "default-chain"
)

// Spec is the credential material embedded in an input's configuration.
type Spec struct {
	AccessKey    string
	SecretKey    string
	Role         string
	DefaultChain bool
}

// Overrides are credentials supplied at invocation time. They win over
// anything in the input's configuration.
type Overrides struct {
	AccessKey string
	SecretKey string
	Role      string
}

// Resolved holds credentials for one enumeration pass.
type Resolved struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expires         time.Time
	Source          string

	// provider refreshes assumed-role credentials; nil for static keys.
	provider aws.CredentialsProvider
}

// Ambient reports whether the SDK default chain supplies the credentials.
func (r Resolved) Ambient() bool {
	return r.Source == SourceDefaultChain
}

// AWSConfig builds an SDK config for the given region using these credentials.
func (r Resolved) AWSConfig(ctx context.Context, region string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	switch {
	case r.provider != nil:
		opts = append(opts, config.WithCredentialsProvider(r.provider))
	case !r.Ambient():
		provider := awscreds.NewStaticCredentialsProvider(r.AccessKeyID, r.SecretAccessKey, r.SessionToken)
		opts = append(opts, config.WithCredentialsProvider(aws.NewCredentialsCache(provider)))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// AuthError reports a credential resolution or exchange failure for one input.
type AuthError struct {
	Account string
	Role    string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("auth account %s role %s: %v", e.Account, e.Role, e.Err)
	}
	return fmt.Sprintf("auth account %s: %v", e.Account, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ErrMissingCredentials is wrapped by the AuthError returned when no source applies.
var ErrMissingCredentials = errors.New("missing credentials")

// STSAPI defines the STS operations used by the resolver.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Resolver applies the credential precedence rules.
type Resolver struct {
	sts STSAPI
}

// NewResolver creates a resolver that exchanges roles through the given STS client.
func NewResolver(client STSAPI) *Resolver {
	return &Resolver{sts: client}
}

// NewDefaultResolver creates a resolver whose STS client uses the SDK default chain.
func NewDefaultResolver(ctx context.Context, region string) (*Resolver, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewResolver(sts.NewFromConfig(cfg)), nil
}

// Resolve picks the first applicable source:
// override keys, override role, input role, input keys, default chain.
func (r *Resolver) Resolve(ctx context.Context, account string, spec Spec, overrides Overrides) (Resolved, error) {
	switch {
	case overrides.AccessKey != "" && overrides.SecretKey != "":
		return Resolved{
			AccessKeyID:     overrides.AccessKey,
			SecretAccessKey: overrides.SecretKey,
			Source:          SourceOverrideKeys,
		}, nil
	case overrides.Role != "":
		return r.assumeRole(ctx, account, overrides.Role, SourceOverrideRole)
	case spec.Role != "":
		return r.assumeRole(ctx, account, spec.Role, SourceInputRole)
	case spec.AccessKey != "" && spec.SecretKey != "":
		return Resolved{
			AccessKeyID:     spec.AccessKey,
			SecretAccessKey: spec.SecretKey,
			Source:          SourceInputKeys,
		}, nil
	case spec.DefaultChain:
		return Resolved{Source: SourceDefaultChain}, nil
	}
	return Resolved{}, &AuthError{Account: account, Err: ErrMissingCredentials}
}

// RoleARN builds the IAM role ARN for a role in an account.
func RoleARN(account, role string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", account, role)
}

func (r *Resolver) assumeRole(ctx context.Context, account, role, source string) (Resolved, error) {
	if r.sts == nil {
		return Resolved{}, &AuthError{Account: account, Role: role, Err: errors.New("no sts client configured")}
	}

	provider := aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(checkedSTS{r.sts}, RoleARN(account, role),
		func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = SessionName
			o.Duration = SessionDuration
		}))
	creds, err := provider.Retrieve(ctx)
	if err != nil {
		return Resolved{}, &AuthError{Account: account, Role: role, Err: fmt.Errorf("assume role: %w", err)}
	}

	return Resolved{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Expires:         creds.Expires,
		Source:          source,
		provider:        provider,
	}, nil
}

var errEmptyCredentials = errors.New("empty credentials in response")

// checkedSTS rejects AssumeRole responses missing any credential field.
type checkedSTS struct {
	STSAPI
}

func (c checkedSTS) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	output, err := c.STSAPI.AssumeRole(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	creds := output.Credentials
	if creds == nil || aws.ToString(creds.AccessKeyId) == "" ||
		creds.SecretAccessKey == nil || creds.SessionToken == nil || creds.Expiration == nil {
		return nil, errEmptyCredentials
	}
	return output, nil
}
