package azure

import (
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v4"
	"github.com/onsi/gomega"
)

func ptr[T any](v T) *T { return &v }

func TestIsRunningDefaultsTrueWithoutInstanceView(t *testing.T) {
	g := gomega.NewGomegaWithT(t)
	g.Expect(isRunning(&armcompute.VirtualMachineProperties{})).To(gomega.BeTrue())
}

func TestIsRunningReadsPowerState(t *testing.T) {
	g := gomega.NewGomegaWithT(t)

	running := &armcompute.VirtualMachineProperties{
		InstanceView: &armcompute.VirtualMachineInstanceView{
			Statuses: []*armcompute.InstanceViewStatus{
				{Code: ptr("ProvisioningState/succeeded")},
				{Code: ptr("PowerState/running")},
			},
		},
	}
	g.Expect(isRunning(running)).To(gomega.BeTrue())

	stopped := &armcompute.VirtualMachineProperties{
		InstanceView: &armcompute.VirtualMachineInstanceView{
			Statuses: []*armcompute.InstanceViewStatus{
				{Code: ptr("PowerState/deallocated")},
			},
		},
	}
	g.Expect(isRunning(stopped)).To(gomega.BeFalse())
}

func TestLastSegment(t *testing.T) {
	g := gomega.NewGomegaWithT(t)
	id := "/subscriptions/sub1/resourceGroups/rg1/providers/Microsoft.Network/networkInterfaces/nic1"
	g.Expect(lastSegment(id)).To(gomega.Equal("nic1"))
}

func TestFirstPrivateIP(t *testing.T) {
	g := gomega.NewGomegaWithT(t)

	props := &armnetwork.InterfacePropertiesFormat{
		IPConfigurations: []*armnetwork.InterfaceIPConfiguration{
			{Properties: nil},
			{Properties: &armnetwork.InterfaceIPConfigurationPropertiesFormat{PrivateIPAddress: ptr("10.0.0.9")}},
		},
	}
	g.Expect(firstPrivateIP(props)).To(gomega.Equal("10.0.0.9"))
	g.Expect(firstPrivateIP(nil)).To(gomega.Equal(""))
}

func TestDeref(t *testing.T) {
	g := gomega.NewGomegaWithT(t)
	g.Expect(deref(nil)).To(gomega.Equal(""))
	g.Expect(deref(ptr("x"))).To(gomega.Equal("x"))
}
