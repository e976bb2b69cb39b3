package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/qa-infra/burner/pkg/models/domain"
)

const (
	resourceTypeInstance = "AWS::EC2::Instance"
	outputKeyTriggeredBy = "triggeredBy"
)

// Stack lifecycle states that incur cost. Terminal delete states are excluded.
func isCountableStack(status cfntypes.StackStatus) bool {
	switch status {
	case cfntypes.StackStatusCreateComplete,
		cfntypes.StackStatusRollbackInProgress,
		cfntypes.StackStatusRollbackComplete,
		cfntypes.StackStatusUpdateInProgress,
		cfntypes.StackStatusUpdateCompleteCleanupInProgress,
		cfntypes.StackStatusUpdateComplete,
		cfntypes.StackStatusUpdateRollbackInProgress,
		cfntypes.StackStatusUpdateRollbackCompleteCleanupInProgress,
		cfntypes.StackStatusUpdateRollbackComplete,
		cfntypes.StackStatusReviewInProgress:
		return true
	}
	return false
}

// Runtime states in which an instance is charged. Anything else attributes as
// not_countable with a zero rate.
func isCountableInstance(state ec2types.InstanceStateName) bool {
	switch state {
	case ec2types.InstanceStateNameRunning,
		ec2types.InstanceStateNamePending,
		ec2types.InstanceStateName("rebooting"):
		return true
	}
	return false
}

// StackAPI is the slice of the CloudFormation client the explorer uses.
type StackAPI interface {
	DescribeStacks(
		ctx context.Context,
		params *cloudformation.DescribeStacksInput,
		optFns ...func(*cloudformation.Options),
	) (*cloudformation.DescribeStacksOutput, error)
	DescribeStackResources(
		ctx context.Context,
		params *cloudformation.DescribeStackResourcesInput,
		optFns ...func(*cloudformation.Options),
	) (*cloudformation.DescribeStackResourcesOutput, error)
}

// ComputeAPI is the slice of the EC2 client the explorer uses.
type ComputeAPI interface {
	DescribeInstances(
		ctx context.Context,
		params *ec2.DescribeInstancesInput,
		optFns ...func(*ec2.Options),
	) (*ec2.DescribeInstancesOutput, error)
	DescribeVolumes(
		ctx context.Context,
		params *ec2.DescribeVolumesInput,
		optFns ...func(*ec2.Options),
	) (*ec2.DescribeVolumesOutput, error)
}

// Explorer scans provisioned stacks and resolves each countable one to its
// owner, instance type and attached volumes.
type Explorer struct {
	stacks  StackAPI
	compute ComputeAPI
	region  string
}

func NewExplorer(cfg awssdk.Config) *Explorer {
	return &Explorer{
		stacks:  cloudformation.NewFromConfig(cfg),
		compute: ec2.NewFromConfig(cfg),
		region:  cfg.Region,
	}
}

// NewExplorerWithClients wires explicit clients, used by tests.
func NewExplorerWithClients(stacks StackAPI, compute ComputeAPI, region string) *Explorer {
	return &Explorer{stacks: stacks, compute: compute, region: region}
}

// ListAttributedResources returns one attribution per countable stack. A stack
// whose instance cannot be resolved is logged and skipped; the scan continues,
// so one bad stack does not lose the rest of the run.
func (e *Explorer) ListAttributedResources(ctx context.Context) ([]domain.Attribution, error) {
	logger := zerolog.Ctx(ctx)

	stacks, err := e.listCountableStacks(ctx)
	if err != nil {
		return nil, err
	}

	var attributions []domain.Attribution
	for _, stack := range stacks {
		name := aws.ToString(stack.StackName)

		instanceID, err := e.findInstanceID(ctx, name)
		if err != nil {
			logger.Warn().Err(err).Str("stack", name).Msg("skipping stack, resources not resolvable")
			continue
		}
		if instanceID == "" {
			logger.Info().Str("stack", name).Msg("skipping stack, no compute instance among resources")
			continue
		}

		instanceType, state, found, err := e.describeInstance(ctx, instanceID)
		if err != nil {
			logger.Warn().Err(err).Str("stack", name).Str("instance", instanceID).
				Msg("skipping stack, instance lookup failed")
			continue
		}
		if !found {
			logger.Info().Str("stack", name).Str("instance", instanceID).
				Msg("skipping stack, instance no longer exists")
			continue
		}
		if !isCountableInstance(state) {
			instanceType = domain.InstanceTypeNotCountable
		}

		volumes, err := e.attachedVolumes(ctx, instanceID)
		if err != nil {
			logger.Warn().Err(err).Str("stack", name).Str("instance", instanceID).
				Msg("volume lookup failed, attributing compute only")
			volumes = domain.VolumeSet{}
		}

		attributions = append(attributions, domain.Attribution{
			Stack:        name,
			User:         stackOwner(stack),
			InstanceType: instanceType,
			Volumes:      volumes,
		})
	}

	if len(attributions) == 0 {
		logger.Info().Str("region", e.region).Msg("no running stacks found")
	}
	return attributions, nil
}

func (e *Explorer) listCountableStacks(ctx context.Context) ([]cfntypes.Stack, error) {
	var stacks []cfntypes.Stack
	var next *string
	for {
		out, err := e.stacks.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{NextToken: next})
		if err != nil {
			return nil, fmt.Errorf("describe stacks: %w", err)
		}
		for _, stack := range out.Stacks {
			if isCountableStack(stack.StackStatus) {
				stacks = append(stacks, stack)
			}
		}
		if out.NextToken == nil {
			break
		}
		next = out.NextToken
	}
	return stacks, nil
}

// findInstanceID returns the physical id of the first compute instance in the
// stack, or empty when the stack has none.
func (e *Explorer) findInstanceID(ctx context.Context, stackName string) (string, error) {
	out, err := e.stacks.DescribeStackResources(ctx, &cloudformation.DescribeStackResourcesInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return "", fmt.Errorf("describe stack resources: %w", err)
	}
	for _, resource := range out.StackResources {
		if aws.ToString(resource.ResourceType) == resourceTypeInstance {
			return aws.ToString(resource.PhysicalResourceId), nil
		}
	}
	return "", nil
}

func (e *Explorer) describeInstance(
	ctx context.Context,
	instanceID string,
) (instanceType string, state ec2types.InstanceStateName, found bool, err error) {
	out, err := e.compute.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		if instanceVanished(err) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("describe instance %s: %w", instanceID, err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return "", "", false, nil
	}

	instance := out.Reservations[0].Instances[0]
	if instance.State != nil {
		state = instance.State.Name
	}
	return string(instance.InstanceType), state, true, nil
}

func (e *Explorer) attachedVolumes(ctx context.Context, instanceID string) (domain.VolumeSet, error) {
	out, err := e.compute.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{
			{
				Name:   aws.String("attachment.instance-id"),
				Values: []string{instanceID},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("describe volumes for %s: %w", instanceID, err)
	}

	volumes := domain.VolumeSet{}
	for _, volume := range out.Volumes {
		volumes[string(volume.VolumeType)] += int(aws.ToInt32(volume.Size))
	}
	return volumes, nil
}

func stackOwner(stack cfntypes.Stack) string {
	for _, output := range stack.Outputs {
		if aws.ToString(output.OutputKey) == outputKeyTriggeredBy && aws.ToString(output.OutputValue) != "" {
			return aws.ToString(output.OutputValue)
		}
	}
	return domain.UserUndefined
}

func instanceVanished(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidInstanceID.NotFound"
}
