// Package aws discovers running EC2 instances, including Auto Scaling
// Group members, as models.Instance values across one or more regions.
package aws

import (
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vsk8s/haproxy-fleet-sync/internal/errkind"
	"github.com/vsk8s/haproxy-fleet-sync/internal/models"
)

// Config names the AWS regions to discover across.
type Config struct {
	Regions []string
}

type regionClients struct {
	region string
	ec2    *ec2.Client
	asg    *autoscaling.Client
}

// Client discovers EC2 instances (plain and ASG members, deduped by
// instance ID) across every configured region, fanning the per-region
// listing out with an errgroup and rejoining before returning.
type Client struct {
	regions []regionClients
}

// New builds a Client using the default AWS credential chain
// (config.LoadDefaultConfig), matching the pack's own AWS call sites.
func New(ctx context.Context, cfg Config) (*Client, error) {
	base, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errkind.New(errkind.Discovery, err, "load aws default config")
	}

	regions := cfg.Regions
	if len(regions) == 0 {
		regions = []string{base.Region}
	}

	clients := make([]regionClients, 0, len(regions))
	for _, region := range regions {
		regionCfg := base.Copy()
		regionCfg.Region = region
		clients = append(clients, regionClients{
			region: region,
			ec2:    ec2.NewFromConfig(regionCfg),
			asg:    autoscaling.NewFromConfig(regionCfg),
		})
	}

	return &Client{regions: clients}, nil
}

// DiscoverAll lists every running EC2 instance across all configured
// regions, annotating ASG membership where applicable, and deduplicates
// by instance ID.
func (c *Client) DiscoverAll(ctx context.Context) ([]models.Instance, error) {
	perRegion := make([][]models.Instance, len(c.regions))

	g, gctx := errgroup.WithContext(ctx)
	for i, rc := range c.regions {
		i, rc := i, rc
		g.Go(func() error {
			insts, err := rc.discoverRegion(gctx)
			if err != nil {
				return err
			}
			perRegion[i] = insts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return dedupeByID(perRegion), nil
}

// dedupeByID flattens per-region instance lists into one, keeping the
// first occurrence of each instance ID -- the same first-occurrence-wins
// rule the Grouper applies downstream.
func dedupeByID(perRegion [][]models.Instance) []models.Instance {
	seen := make(map[string]bool)
	var out []models.Instance
	for _, insts := range perRegion {
		for _, inst := range insts {
			if seen[inst.ID] {
				continue
			}
			seen[inst.ID] = true
			out = append(out, inst)
		}
	}
	return out
}

func (rc *regionClients) discoverRegion(ctx context.Context) ([]models.Instance, error) {
	asgMembers, err := rc.asgMemberSet(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.Instance
	input := &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: awssdk.String("instance-state-name"), Values: []string{"running"}},
		},
	}
	paginator := ec2.NewDescribeInstancesPaginator(rc.ec2, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errkind.New(errkind.Discovery, err, "describe instances").WithService(rc.region)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				if model, ok := instanceFromEC2(inst, rc.region, asgMembers); ok {
					out = append(out, model)
				}
			}
		}
	}
	return out, nil
}

// instanceFromEC2 converts one EC2 API instance into a models.Instance,
// skipping instances with no private IP (not yet network-attached). ASG
// membership, if any, is recorded as a synthetic tag rather than changing
// identity -- the EC2 listing alone determines which instances exist.
func instanceFromEC2(inst ec2types.Instance, region string, asgMembers map[string]string) (models.Instance, bool) {
	if inst.InstanceId == nil || inst.PrivateIpAddress == nil {
		return models.Instance{}, false
	}
	id := *inst.InstanceId
	tags := make(map[string]string, len(inst.Tags))
	for _, t := range inst.Tags {
		if t.Key == nil || t.Value == nil {
			continue
		}
		tags[*t.Key] = *t.Value
	}
	if asgName, ok := asgMembers[id]; ok {
		tags["aws:autoscaling:groupName"] = asgName
	}
	var zone string
	if inst.Placement != nil && inst.Placement.AvailabilityZone != nil {
		zone = *inst.Placement.AvailabilityZone
	}
	return models.NewInstance(id, *inst.PrivateIpAddress, region, zone, tags), true
}

// asgMemberSet maps instance ID to owning Auto Scaling Group name, used
// only to annotate tags -- membership never changes what DescribeInstances
// already returned (invariant: the EC2 listing is the single source of
// running instances, per spec's dedup-by-instance-id rule).
func (rc *regionClients) asgMemberSet(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	paginator := autoscaling.NewDescribeAutoScalingGroupsPaginator(rc.asg, &autoscaling.DescribeAutoScalingGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			log.WithField("region", rc.region).WithError(err).Warn("could not list auto scaling groups, skipping asg annotation")
			return out, nil
		}
		for _, grp := range page.AutoScalingGroups {
			if grp.AutoScalingGroupName == nil {
				continue
			}
			for _, inst := range grp.Instances {
				if inst.InstanceId == nil {
					continue
				}
				if inst.LifecycleState != asgtypes.LifecycleStateInService {
					continue
				}
				out[*inst.InstanceId] = *grp.AutoScalingGroupName
			}
		}
	}
	return out, nil
}
