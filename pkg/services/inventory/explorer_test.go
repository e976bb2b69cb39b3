package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qa-infra/burner/pkg/models/domain"
)

type fakeStacks struct {
	describeStacks    func(*cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error)
	describeResources func(*cloudformation.DescribeStackResourcesInput) (*cloudformation.DescribeStackResourcesOutput, error)
}

func (f *fakeStacks) DescribeStacks(
	_ context.Context,
	params *cloudformation.DescribeStacksInput,
	_ ...func(*cloudformation.Options),
) (*cloudformation.DescribeStacksOutput, error) {
	return f.describeStacks(params)
}

func (f *fakeStacks) DescribeStackResources(
	_ context.Context,
	params *cloudformation.DescribeStackResourcesInput,
	_ ...func(*cloudformation.Options),
) (*cloudformation.DescribeStackResourcesOutput, error) {
	return f.describeResources(params)
}

type fakeCompute struct {
	describeInstances func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error)
	describeVolumes   func(*ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error)
}

func (f *fakeCompute) DescribeInstances(
	_ context.Context,
	params *ec2.DescribeInstancesInput,
	_ ...func(*ec2.Options),
) (*ec2.DescribeInstancesOutput, error) {
	return f.describeInstances(params)
}

func (f *fakeCompute) DescribeVolumes(
	_ context.Context,
	params *ec2.DescribeVolumesInput,
	_ ...func(*ec2.Options),
) (*ec2.DescribeVolumesOutput, error) {
	return f.describeVolumes(params)
}

func stack(name string, status cfntypes.StackStatus, outputs ...cfntypes.Output) cfntypes.Stack {
	return cfntypes.Stack{
		StackName:   aws.String(name),
		StackStatus: status,
		Outputs:     outputs,
	}
}

func triggeredBy(user string) cfntypes.Output {
	return cfntypes.Output{OutputKey: aws.String("triggeredBy"), OutputValue: aws.String(user)}
}

func instanceResource(id string) cfntypes.StackResource {
	return cfntypes.StackResource{
		ResourceType:       aws.String("AWS::EC2::Instance"),
		PhysicalResourceId: aws.String(id),
	}
}

func reservation(instanceType string, state ec2types.InstanceStateName) *ec2.DescribeInstancesOutput {
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{
			{
				Instances: []ec2types.Instance{
					{
						InstanceType: ec2types.InstanceType(instanceType),
						State:        &ec2types.InstanceState{Name: state},
					},
				},
			},
		},
	}
}

func volumes(vols ...ec2types.Volume) *ec2.DescribeVolumesOutput {
	return &ec2.DescribeVolumesOutput{Volumes: vols}
}

func gp2(size int32) ec2types.Volume {
	return ec2types.Volume{VolumeType: ec2types.VolumeTypeGp2, Size: aws.Int32(size)}
}

func TestExplorer_ListAttributedResources(t *testing.T) {
	ctx := context.Background()

	t.Run("attributes a running stack to its user", func(t *testing.T) {
		stacks := &fakeStacks{
			describeStacks: func(*cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
				return &cloudformation.DescribeStacksOutput{
					Stacks: []cfntypes.Stack{
						stack("qa-42", cfntypes.StackStatusUpdateComplete, triggeredBy("bob")),
					},
				}, nil
			},
			describeResources: func(in *cloudformation.DescribeStackResourcesInput) (*cloudformation.DescribeStackResourcesOutput, error) {
				assert.Equal(t, "qa-42", aws.ToString(in.StackName))
				return &cloudformation.DescribeStackResourcesOutput{
					StackResources: []cfntypes.StackResource{instanceResource("i-1")},
				}, nil
			},
		}
		compute := &fakeCompute{
			describeInstances: func(in *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
				require.Equal(t, []string{"i-1"}, in.InstanceIds)
				return reservation("c5.large", ec2types.InstanceStateNameRunning), nil
			},
			describeVolumes: func(in *ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
				require.Len(t, in.Filters, 1)
				assert.Equal(t, "attachment.instance-id", aws.ToString(in.Filters[0].Name))
				return volumes(gp2(50)), nil
			},
		}

		got, err := NewExplorerWithClients(stacks, compute, "us-east-1").ListAttributedResources(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, domain.Attribution{
			Stack:        "qa-42",
			User:         "bob",
			InstanceType: "c5.large",
			Volumes:      domain.VolumeSet{"gp2": 50},
		}, got[0])
	})

	t.Run("drops stacks outside the countable states", func(t *testing.T) {
		stacks := &fakeStacks{
			describeStacks: func(*cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
				return &cloudformation.DescribeStacksOutput{
					Stacks: []cfntypes.Stack{
						stack("gone", cfntypes.StackStatusDeleteComplete),
						stack("going", cfntypes.StackStatusDeleteInProgress),
						stack("broken", cfntypes.StackStatusCreateFailed),
					},
				}, nil
			},
			describeResources: func(*cloudformation.DescribeStackResourcesInput) (*cloudformation.DescribeStackResourcesOutput, error) {
				t.Fatal("resources must not be resolved for non-countable stacks")
				return nil, nil
			},
		}

		got, err := NewExplorerWithClients(stacks, &fakeCompute{}, "us-east-1").ListAttributedResources(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("stopped instance attributes as not_countable, volumes kept", func(t *testing.T) {
		stacks := singleStack("qa-7", triggeredBy("alice"))
		compute := &fakeCompute{
			describeInstances: func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
				return reservation("t2.large", ec2types.InstanceStateNameStopped), nil
			},
			describeVolumes: func(*ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
				return volumes(gp2(20)), nil
			},
		}

		got, err := NewExplorerWithClients(stacks, compute, "us-east-1").ListAttributedResources(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, domain.InstanceTypeNotCountable, got[0].InstanceType)
		assert.Equal(t, domain.VolumeSet{"gp2": 20}, got[0].Volumes)
	})

	t.Run("same-type volumes sum", func(t *testing.T) {
		stacks := singleStack("qa-7", triggeredBy("alice"))
		compute := &fakeCompute{
			describeInstances: func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
				return reservation("m5.large", ec2types.InstanceStateNameRunning), nil
			},
			describeVolumes: func(*ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
				return volumes(gp2(20), gp2(20)), nil
			},
		}

		got, err := NewExplorerWithClients(stacks, compute, "us-east-1").ListAttributedResources(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, domain.VolumeSet{"gp2": 40}, got[0].Volumes)
	})

	t.Run("missing or empty triggeredBy falls back to Undefined", func(t *testing.T) {
		stacks := singleStack("qa-7", cfntypes.Output{
			OutputKey:   aws.String("triggeredBy"),
			OutputValue: aws.String(""),
		})
		compute := runningInstance("m5.large", volumes())

		got, err := NewExplorerWithClients(stacks, compute, "us-east-1").ListAttributedResources(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, domain.UserUndefined, got[0].User)
	})

	t.Run("vanished instance skips only that stack", func(t *testing.T) {
		stacks := &fakeStacks{
			describeStacks: func(*cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
				return &cloudformation.DescribeStacksOutput{
					Stacks: []cfntypes.Stack{
						stack("dead", cfntypes.StackStatusCreateComplete, triggeredBy("alice")),
						stack("alive", cfntypes.StackStatusCreateComplete, triggeredBy("bob")),
					},
				}, nil
			},
			describeResources: func(in *cloudformation.DescribeStackResourcesInput) (*cloudformation.DescribeStackResourcesOutput, error) {
				id := "i-dead"
				if aws.ToString(in.StackName) == "alive" {
					id = "i-alive"
				}
				return &cloudformation.DescribeStackResourcesOutput{
					StackResources: []cfntypes.StackResource{instanceResource(id)},
				}, nil
			},
		}
		compute := &fakeCompute{
			describeInstances: func(in *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
				if in.InstanceIds[0] == "i-dead" {
					return &ec2.DescribeInstancesOutput{}, nil
				}
				return reservation("c5.large", ec2types.InstanceStateNameRunning), nil
			},
			describeVolumes: func(*ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
				return volumes(), nil
			},
		}

		got, err := NewExplorerWithClients(stacks, compute, "us-east-1").ListAttributedResources(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "alive", got[0].Stack)
	})

	t.Run("follows stack list pagination", func(t *testing.T) {
		calls := 0
		stacks := &fakeStacks{
			describeStacks: func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
				calls++
				if in.NextToken == nil {
					return &cloudformation.DescribeStacksOutput{
						Stacks:    []cfntypes.Stack{stack("page-1", cfntypes.StackStatusCreateComplete, triggeredBy("alice"))},
						NextToken: aws.String("more"),
					}, nil
				}
				return &cloudformation.DescribeStacksOutput{
					Stacks: []cfntypes.Stack{stack("page-2", cfntypes.StackStatusCreateComplete, triggeredBy("bob"))},
				}, nil
			},
			describeResources: func(*cloudformation.DescribeStackResourcesInput) (*cloudformation.DescribeStackResourcesOutput, error) {
				return &cloudformation.DescribeStackResourcesOutput{
					StackResources: []cfntypes.StackResource{instanceResource("i-1")},
				}, nil
			},
		}
		compute := runningInstance("c5.large", volumes())

		got, err := NewExplorerWithClients(stacks, compute, "us-east-1").ListAttributedResources(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Len(t, got, 2)
	})

	t.Run("stack list failure fails the run", func(t *testing.T) {
		stacks := &fakeStacks{
			describeStacks: func(*cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
				return nil, errors.New("throttled")
			},
		}

		_, err := NewExplorerWithClients(stacks, &fakeCompute{}, "us-east-1").ListAttributedResources(ctx)
		require.Error(t, err)
	})
}

func singleStack(name string, outputs ...cfntypes.Output) *fakeStacks {
	return &fakeStacks{
		describeStacks: func(*cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return &cloudformation.DescribeStacksOutput{
				Stacks: []cfntypes.Stack{stack(name, cfntypes.StackStatusCreateComplete, outputs...)},
			}, nil
		},
		describeResources: func(*cloudformation.DescribeStackResourcesInput) (*cloudformation.DescribeStackResourcesOutput, error) {
			return &cloudformation.DescribeStackResourcesOutput{
				StackResources: []cfntypes.StackResource{instanceResource("i-1")},
			}, nil
		},
	}
}

func runningInstance(instanceType string, vols *ec2.DescribeVolumesOutput) *fakeCompute {
	return &fakeCompute{
		describeInstances: func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
			return reservation(instanceType, ec2types.InstanceStateNameRunning), nil
		},
		describeVolumes: func(*ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
			return vols, nil
		},
	}
}
