package e2e_test

import (
	"context"

	"cloudcubes/internal/config"
	"cloudcubes/internal/lease"
	"cloudcubes/internal/lifecycle"
	"cloudcubes/internal/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func e2eConfig() *config.Config {
	return &config.Config{
		Region:             "us-east-1",
		ServerDatabaseName: "CloudcubesServers",
		ResourceBucketName: "cloudcubes-resources",
		DataBucketName:     "cloudcubes-data",
		InstanceProfileArn: "arn:aws:iam::123456789012:instance-profile/server",
		SubnetID:           "subnet-e2e",
		SecurityGroupID:    "sg-e2e",
		LaunchType:         "spot",
		ImageID:            "ami-0233c2d874b811deb",
		InstanceType:       "m5.large",
	}
}

var _ = Describe("Server lifecycle", func() {
	var (
		ctx    context.Context
		record *MemRecord
		cloud  *FakeCloud
		server lifecycle.Server
	)

	BeforeEach(func() {
		ctx = context.Background()
		record = NewMemRecord(7)
		cloud = NewFakeCloud()

		var err error
		server, err = lifecycle.NewServer(record, lifecycle.Clients{EC2: cloud, SSM: cloud}, e2eConfig())
		Expect(err).NotTo(HaveOccurred())
	})

	Context("Starting and confirming a server", func() {
		It("should walk the record from OFFLINE through UNKNOWN to ONLINE", func() {
			By("starting from a fresh offline record")
			Expect(server.State(ctx)).To(Equal(store.StateOffline))

			By("requesting spot capacity")
			Expect(server.Start(ctx)).To(Succeed())
			Expect(server.State(ctx)).To(Equal(store.StateUnknown))

			requestID, ok, err := record.GetStringValue(ctx, store.FieldSpotRequestID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(requestID).To(HavePrefix("sir-e2e-"))

			By("staying UNKNOWN while the request is open")
			Expect(server.Reconcile(ctx)).To(Equal(store.StateUnknown))

			By("settling ONLINE once the instance runs")
			cloud.Fulfill(requestID, "i-e2e-1")
			Expect(server.Reconcile(ctx)).To(Equal(store.StateOnline))

			instanceID, ok, err := record.GetStringValue(ctx, store.FieldInstanceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(instanceID).To(Equal("i-e2e-1"))

			By("refusing a second start while online")
			Expect(server.Start(ctx)).To(MatchError(lifecycle.ErrServerOnline))
		})

		It("should settle OFFLINE when spot capacity is lost", func() {
			Expect(server.Start(ctx)).To(Succeed())
			requestID, _, err := record.GetStringValue(ctx, store.FieldSpotRequestID)
			Expect(err).NotTo(HaveOccurred())

			cloud.Lose(requestID)
			Expect(server.Reconcile(ctx)).To(Equal(store.StateOffline))

			_, ok, err := record.GetStringValue(ctx, store.FieldSpotRequestID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse(), "the dead request id should be cleared")
		})
	})

	Context("Stopping a running server", func() {
		BeforeEach(func() {
			Expect(server.Start(ctx)).To(Succeed())
			requestID, _, err := record.GetStringValue(ctx, store.FieldSpotRequestID)
			Expect(err).NotTo(HaveOccurred())
			cloud.Fulfill(requestID, "i-e2e-1")
			Expect(server.Reconcile(ctx)).To(Equal(store.StateOnline))
		})

		It("should shut down gracefully and release the instance", func() {
			Expect(server.Stop(ctx)).To(Succeed())

			commands := cloud.Commands()
			Expect(commands).To(HaveLen(1))
			Expect(commands[0].InstanceIds).To(ConsistOf("i-e2e-1"))
			Expect(commands[0].Parameters["commands"][0]).To(ContainSubstring("server-shutdown/shutdown.sh"))

			Expect(cloud.Terminated()).To(ConsistOf("i-e2e-1"))
			Expect(server.State(ctx)).To(Equal(store.StateOffline))

			_, ok, err := record.GetStringValue(ctx, store.FieldInstanceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("should allow a fresh start after stopping", func() {
			Expect(server.Stop(ctx)).To(Succeed())
			Expect(server.Start(ctx)).To(Succeed())
			Expect(server.State(ctx)).To(Equal(store.StateUnknown))
		})
	})

	Context("Desired-state interface", func() {
		It("should drive an offline server online and back", func() {
			changed, err := server.SetDesiredState(ctx, store.StateOnline)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			requestID, _, err := record.GetStringValue(ctx, store.FieldSpotRequestID)
			Expect(err).NotTo(HaveOccurred())
			cloud.Fulfill(requestID, "i-e2e-2")
			Expect(server.Reconcile(ctx)).To(Equal(store.StateOnline))

			changed, err = server.SetDesiredState(ctx, store.StateOnline)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse(), "already satisfied")

			changed, err = server.SetDesiredState(ctx, store.StateOffline)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(server.State(ctx)).To(Equal(store.StateOffline))
		})
	})

	Context("Lifecycle leases", func() {
		It("should refuse a concurrent transition on the same server", func() {
			locker := lease.NewLocalLocker()

			held, err := locker.Acquire(ctx, 7)
			Expect(err).NotTo(HaveOccurred())

			_, err = locker.Acquire(ctx, 7)
			Expect(err).To(MatchError(lease.ErrLeaseHeld))

			Expect(held.Release(ctx)).To(Succeed())
			reacquired, err := locker.Acquire(ctx, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(reacquired.Release(ctx)).To(Succeed())
		})
	})
})
