package haproxyapi

import (
	"context"
	"errors"
	"testing"

	"github.com/onsi/gomega"
)

type fakeClient struct {
	version        int
	createdTxns    []string
	committed      []string
	deleted        []string
	nextTxnID      int
	commitErr      error
	commitErrOnce  bool
	createTxnErr   error
	versionErr     error
}

func (f *fakeClient) ConfigurationVersion(ctx context.Context) (int, error) {
	return f.version, f.versionErr
}

func (f *fakeClient) CreateTransaction(ctx context.Context, version int) (string, error) {
	if f.createTxnErr != nil {
		return "", f.createTxnErr
	}
	f.nextTxnID++
	id := "txn" + string(rune('0'+f.nextTxnID))
	f.createdTxns = append(f.createdTxns, id)
	return id, nil
}

func (f *fakeClient) CommitTransaction(ctx context.Context, txnID string) error {
	if f.commitErr != nil {
		err := f.commitErr
		if f.commitErrOnce {
			f.commitErr = nil
		}
		return err
	}
	f.committed = append(f.committed, txnID)
	return nil
}

func (f *fakeClient) DeleteTransaction(ctx context.Context, txnID string) error {
	f.deleted = append(f.deleted, txnID)
	return nil
}

func (f *fakeClient) GetBackend(ctx context.Context, name, txnID string) (*Backend, error) {
	return nil, nil
}
func (f *fakeClient) CreateBackend(ctx context.Context, payload Backend, txnID string) error {
	return nil
}
func (f *fakeClient) GetServers(ctx context.Context, backend, txnID string) ([]Server, error) {
	return nil, nil
}
func (f *fakeClient) CreateServer(ctx context.Context, backend string, payload Server, txnID string) error {
	return nil
}
func (f *fakeClient) ReplaceServer(ctx context.Context, backend, name string, payload Server, txnID string) error {
	return nil
}
func (f *fakeClient) DeleteServer(ctx context.Context, backend, name, txnID string) error {
	return nil
}

func TestScopeCommitsWhenChanged(t *testing.T) {
	g := gomega.NewGomegaWithT(t)
	fc := &fakeClient{version: 5}

	var err error
	scope, openErr := Open(context.Background(), fc)
	g.Expect(openErr).NotTo(gomega.HaveOccurred())
	defer scope.Close(context.Background(), &err)

	scope.MarkChanged()

	scope.Close(context.Background(), &err)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(fc.committed).To(gomega.Equal(fc.createdTxns))
	g.Expect(fc.deleted).To(gomega.BeEmpty())
}

func TestScopeDiscardsWhenUnchanged(t *testing.T) {
	g := gomega.NewGomegaWithT(t)
	fc := &fakeClient{version: 5}

	var err error
	scope, openErr := Open(context.Background(), fc)
	g.Expect(openErr).NotTo(gomega.HaveOccurred())

	scope.Close(context.Background(), &err)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(fc.committed).To(gomega.BeEmpty())
	g.Expect(fc.deleted).To(gomega.Equal(fc.createdTxns))
}

func TestScopeAbortsOnError(t *testing.T) {
	g := gomega.NewGomegaWithT(t)
	fc := &fakeClient{version: 5}

	err := errors.New("boom")
	scope, openErr := Open(context.Background(), fc)
	g.Expect(openErr).NotTo(gomega.HaveOccurred())

	scope.MarkChanged()
	scope.Close(context.Background(), &err)

	g.Expect(err).To(gomega.HaveOccurred())
	g.Expect(fc.committed).To(gomega.BeEmpty())
	g.Expect(fc.deleted).To(gomega.Equal(fc.createdTxns))
}

func TestScopeAbortsOnCommitFailure(t *testing.T) {
	g := gomega.NewGomegaWithT(t)
	fc := &fakeClient{version: 5, commitErr: &ErrVersionConflict{TxnID: "txn1"}}

	var err error
	scope, openErr := Open(context.Background(), fc)
	g.Expect(openErr).NotTo(gomega.HaveOccurred())

	scope.MarkChanged()
	scope.Close(context.Background(), &err)

	g.Expect(err).To(gomega.HaveOccurred())
	var conflict *ErrVersionConflict
	g.Expect(errors.As(err, &conflict)).To(gomega.BeTrue())
	g.Expect(fc.deleted).To(gomega.Equal(fc.createdTxns))
}
