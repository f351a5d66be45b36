// Package cloud binds the bake pipeline to AWS: EC2 for the build
// instance and its image, SQS for progress events.
package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Clients holds the bindings for one region.
type Clients struct {
	EC2 *EC2
	SQS *SQS
}

// Connect loads credentials from the default chain.
func Connect(ctx context.Context, region string) (*Clients, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return &Clients{
		EC2: NewEC2(ec2.NewFromConfig(cfg)),
		SQS: NewSQS(sqs.NewFromConfig(cfg)),
	}, nil
}
