// Package azure discovers running Azure VMs and VM Scale Set instances as
// models.Instance values, resolving each one's private IP through its
// network interface.
package azure

import (
	"context"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vsk8s/haproxy-fleet-sync/internal/errkind"
	"github.com/vsk8s/haproxy-fleet-sync/internal/models"
)

// Config names the Azure scope to discover within: one subscription, one
// resource group. Regions is informational only -- the resource group
// already scopes discovery, but the field lets operators document which
// regions a group's VMs are expected to span.
type Config struct {
	SubscriptionID string
	ResourceGroup  string
	Regions        []string
}

// Client discovers instances across plain VMs and VM Scale Set members
// within one resource group.
type Client struct {
	cfg        Config
	vmClient   *armcompute.VirtualMachinesClient
	vmssClient *armcompute.VirtualMachineScaleSetsClient
	vmssVMs    *armcompute.VirtualMachineScaleSetVMsClient
	nicClient  *armnetwork.InterfacesClient
}

// New builds a Client authenticating via azidentity.DefaultAzureCredential,
// the ambient credential chain used throughout the pack's Azure call sites.
func New(cfg Config) (*Client, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, errkind.New(errkind.Discovery, err, "build azure credential")
	}
	return newWithCredential(cfg, cred)
}

func newWithCredential(cfg Config, cred azcore.TokenCredential) (*Client, error) {
	vmClient, err := armcompute.NewVirtualMachinesClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, errkind.New(errkind.Discovery, err, "build virtual machines client")
	}
	vmssClient, err := armcompute.NewVirtualMachineScaleSetsClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, errkind.New(errkind.Discovery, err, "build vmss client")
	}
	vmssVMs, err := armcompute.NewVirtualMachineScaleSetVMsClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, errkind.New(errkind.Discovery, err, "build vmss instances client")
	}
	nicClient, err := armnetwork.NewInterfacesClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, errkind.New(errkind.Discovery, err, "build interfaces client")
	}
	return &Client{cfg: cfg, vmClient: vmClient, vmssClient: vmssClient, vmssVMs: vmssVMs, nicClient: nicClient}, nil
}

// DiscoverAll lists the VMs and VM Scale Set members in the configured
// resource group, resolving each one's private IP from the first of its
// network interfaces that carries one. An instance is skipped when its
// instance view reports a power state other than running; one returned
// without an instance view is kept, whatever its power state. NIC lookups
// are fanned out with an errgroup and rejoined before returning, per the
// concurrency model.
func (c *Client) DiscoverAll(ctx context.Context) ([]models.Instance, error) {
	plain, err := c.listPlainVMs(ctx)
	if err != nil {
		return nil, err
	}
	scaleSetMembers, err := c.listScaleSetMembers(ctx)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		name       string
		tags       map[string]*string
		location   *string
		zones      []*string
		properties *armcompute.VirtualMachineProperties
		resolveNIC func(ctx context.Context, props *armcompute.VirtualMachineProperties) (string, error)
	}

	candidates := make([]candidate, 0, len(plain)+len(scaleSetMembers))
	for _, vm := range plain {
		vm := vm
		candidates = append(candidates, candidate{
			name: deref(vm.Name), tags: vm.Tags, location: vm.Location, zones: vm.Zones,
			properties: vm.Properties,
			resolveNIC: func(ctx context.Context, props *armcompute.VirtualMachineProperties) (string, error) {
				return c.resolvePlainNIC(ctx, props)
			},
		})
	}
	for _, m := range scaleSetMembers {
		m := m
		candidates = append(candidates, candidate{
			name: deref(m.vm.Name), tags: m.vm.Tags, location: m.vm.Location, zones: m.vm.Zones,
			properties: m.vm.Properties,
			resolveNIC: func(ctx context.Context, props *armcompute.VirtualMachineProperties) (string, error) {
				return c.resolveScaleSetNIC(ctx, m.vmssName, m.instanceID, props)
			},
		})
	}

	instances := make([]models.Instance, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			if cand.properties != nil && cand.properties.InstanceView != nil && !isRunning(cand.properties) {
				return nil
			}
			ip, err := cand.resolveNIC(gctx, cand.properties)
			if err != nil {
				log.WithField("vm", cand.name).WithError(err).Warn("could not resolve private ip, skipping instance")
				return nil
			}
			if ip == "" {
				return nil
			}

			tags := make(map[string]string, len(cand.tags))
			for k, v := range cand.tags {
				tags[k] = deref(v)
			}
			var zone string
			if len(cand.zones) > 0 && cand.zones[0] != nil {
				zone = *cand.zones[0]
			}
			var region string
			if cand.location != nil {
				region = *cand.location
			}
			instances[i] = models.NewInstance(cand.name, ip, region, zone, tags)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.ID == "" {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func (c *Client) listPlainVMs(ctx context.Context) ([]*armcompute.VirtualMachine, error) {
	var vms []*armcompute.VirtualMachine
	pager := c.vmClient.NewListPager(c.cfg.ResourceGroup, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errkind.New(errkind.Discovery, err, "list virtual machines")
		}
		vms = append(vms, page.Value...)
	}
	return vms, nil
}

type scaleSetMember struct {
	vmssName   string
	instanceID string
	vm         *armcompute.VirtualMachineScaleSetVM
}

func (c *Client) listScaleSetMembers(ctx context.Context) ([]scaleSetMember, error) {
	var out []scaleSetMember

	setsPager := c.vmssClient.NewListPager(c.cfg.ResourceGroup, nil)
	for setsPager.More() {
		setsPage, err := setsPager.NextPage(ctx)
		if err != nil {
			return nil, errkind.New(errkind.Discovery, err, "list vm scale sets")
		}
		for _, vmss := range setsPage.Value {
			if vmss == nil || vmss.Name == nil {
				continue
			}
			vmssName := *vmss.Name
			vmsPager := c.vmssVMs.NewListPager(c.cfg.ResourceGroup, vmssName, nil)
			for vmsPager.More() {
				vmsPage, err := vmsPager.NextPage(ctx)
				if err != nil {
					return nil, errkind.New(errkind.Discovery, err, "list vmss instances").WithService(vmssName)
				}
				for _, vm := range vmsPage.Value {
					if vm == nil || vm.InstanceID == nil {
						continue
					}
					out = append(out, scaleSetMember{vmssName: vmssName, instanceID: *vm.InstanceID, vm: vm})
				}
			}
		}
	}
	return out, nil
}

func isRunning(props *armcompute.VirtualMachineProperties) bool {
	if props.InstanceView == nil {
		return true
	}
	for _, s := range props.InstanceView.Statuses {
		if s.Code != nil && strings.HasPrefix(*s.Code, "PowerState/") {
			return strings.EqualFold(*s.Code, "PowerState/running")
		}
	}
	return true
}

func (c *Client) resolvePlainNIC(ctx context.Context, props *armcompute.VirtualMachineProperties) (string, error) {
	if props == nil || props.NetworkProfile == nil {
		return "", nil
	}
	for _, ref := range props.NetworkProfile.NetworkInterfaces {
		if ref == nil || ref.ID == nil {
			continue
		}
		nicName := lastSegment(*ref.ID)
		resp, err := c.nicClient.Get(ctx, c.cfg.ResourceGroup, nicName, nil)
		if err != nil {
			return "", errkind.New(errkind.Discovery, err, "get network interface").WithService(nicName)
		}
		if ip := firstPrivateIP(resp.Properties); ip != "" {
			return ip, nil
		}
	}
	return "", nil
}

func (c *Client) resolveScaleSetNIC(ctx context.Context, vmssName, instanceID string, props *armcompute.VirtualMachineProperties) (string, error) {
	if props == nil || props.NetworkProfile == nil {
		return "", nil
	}
	for _, ref := range props.NetworkProfile.NetworkInterfaces {
		if ref == nil || ref.ID == nil {
			continue
		}
		nicName := lastSegment(*ref.ID)
		resp, err := c.nicClient.GetVirtualMachineScaleSetNetworkInterface(
			ctx, c.cfg.ResourceGroup, vmssName, instanceID, nicName, nil)
		if err != nil {
			return "", errkind.New(errkind.Discovery, err, "get vmss network interface").
				WithService(vmssName).WithBackend(nicName)
		}
		if ip := firstPrivateIP(resp.Properties); ip != "" {
			return ip, nil
		}
	}
	return "", nil
}

func firstPrivateIP(props *armnetwork.InterfacePropertiesFormat) string {
	if props == nil {
		return ""
	}
	for _, ipConfig := range props.IPConfigurations {
		if ipConfig == nil || ipConfig.Properties == nil || ipConfig.Properties.PrivateIPAddress == nil {
			continue
		}
		return *ipConfig.Properties.PrivateIPAddress
	}
	return ""
}

func lastSegment(id string) string {
	parts := strings.Split(id, "/")
	return parts[len(parts)-1]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
