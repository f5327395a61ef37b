package reconcile

import (
	"context"
	"sync"

	v1alpha1 "github.com/solanyn/modal-operator/internal/apis/modaloperator/v1alpha1"
)

type fakeFunctionStore struct {
	mu       sync.Mutex
	statuses map[string]v1alpha1.ModalFunctionStatus
}

func newFakeFunctionStore() *fakeFunctionStore {
	return &fakeFunctionStore{statuses: map[string]v1alpha1.ModalFunctionStatus{}}
}

func (f *fakeFunctionStore) UpdateFunctionStatus(ctx context.Context, namespace, name string, status v1alpha1.ModalFunctionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[namespace+"/"+name] = status
	return nil
}

func (f *fakeFunctionStore) GetFunctionStatus(ctx context.Context, namespace, name string) (v1alpha1.ModalFunctionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[namespace+"/"+name], nil
}

func (f *fakeFunctionStore) get(namespace, name string) v1alpha1.ModalFunctionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[namespace+"/"+name]
}

type fakeEndpointStore struct {
	mu       sync.Mutex
	statuses map[string]v1alpha1.ModalEndpointStatus
}

func newFakeEndpointStore() *fakeEndpointStore {
	return &fakeEndpointStore{statuses: map[string]v1alpha1.ModalEndpointStatus{}}
}

func (f *fakeEndpointStore) UpdateEndpointStatus(ctx context.Context, namespace, name string, status v1alpha1.ModalEndpointStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[namespace+"/"+name] = status
	return nil
}

func (f *fakeEndpointStore) GetEndpointStatus(ctx context.Context, namespace, name string) (v1alpha1.ModalEndpointStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[namespace+"/"+name], nil
}

func (f *fakeEndpointStore) get(namespace, name string) v1alpha1.ModalEndpointStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[namespace+"/"+name]
}

type fakeServiceManager struct {
	mu      sync.Mutex
	ensured map[string]string
	deleted map[string]bool
}

func newFakeServiceManager() *fakeServiceManager {
	return &fakeServiceManager{ensured: map[string]string{}, deleted: map[string]bool{}}
}

func (f *fakeServiceManager) EnsureExternalName(ctx context.Context, namespace, name, externalHost string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured[namespace+"/"+name] = externalHost
	return nil
}

func (f *fakeServiceManager) DeleteExternalName(ctx context.Context, namespace, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[namespace+"/"+name] = true
	return nil
}
