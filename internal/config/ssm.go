package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSMSource reads every parameter under a Parameter Store path, decrypting
// SecureString values. "/curie/Dev/Queue/Url" under path "/curie/Dev"
// becomes key "Queue.Url".
type SSMSource struct {
	Path   string
	Client ssm.GetParametersByPathAPIClient
	// ReloadAfter is how long loaded values stay fresh. Zero means they are
	// only re-read on an explicit reload.
	ReloadAfter time.Duration
}

// NewSSMSource creates a source for path using client.
func NewSSMSource(client ssm.GetParametersByPathAPIClient, path string) *SSMSource {
	return &SSMSource{Path: path, Client: client}
}

// Name implements Source.
func (s *SSMSource) Name() string { return "ssm:" + s.Path }

// ReloadInterval implements Expiring.
func (s *SSMSource) ReloadInterval() time.Duration { return s.ReloadAfter }

// Load implements Source.
func (s *SSMSource) Load(ctx context.Context) (map[string]string, error) {
	prefix := "/" + strings.Trim(s.Path, "/")
	pager := ssm.NewGetParametersByPathPaginator(s.Client, &ssm.GetParametersByPathInput{
		Path:           aws.String(prefix),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})

	out := make(map[string]string)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("get parameters by path %s: %w", prefix, err)
		}
		for _, p := range page.Parameters {
			key := parameterKey(prefix, aws.ToString(p.Name))
			if key == "" {
				continue
			}
			out[key] = aws.ToString(p.Value)
		}
	}
	return out, nil
}

func parameterKey(prefix, name string) string {
	rel := strings.TrimPrefix(name, prefix)
	rel = strings.Trim(rel, "/")
	return strings.ReplaceAll(rel, "/", ".")
}
