package mock

import (
	"context"

	"github.com/accrue-dev/accrue"
)

var _ accrue.AncestorService = (*AncestorService)(nil)

// AncestorService is a mock implementation of an accrue.AncestorService.
type AncestorService struct {
	AncestorsFn func(context.Context, string) ([]string, error)
	ChildrenFn  func(context.Context, string) ([]string, error)
}

// NewAncestorService returns a mock of AncestorService where its methods will
// return zero values.
func NewAncestorService() *AncestorService {
	return &AncestorService{
		AncestorsFn: func(context.Context, string) ([]string, error) { return nil, nil },
		ChildrenFn:  func(context.Context, string) ([]string, error) { return nil, nil },
	}
}

// Ancestors returns the ancestor chain of the project, nearest parent first.
func (s *AncestorService) Ancestors(ctx context.Context, projectID string) ([]string, error) {
	return s.AncestorsFn(ctx, projectID)
}

// Children returns the direct sub-projects of the project.
func (s *AncestorService) Children(ctx context.Context, projectID string) ([]string, error) {
	return s.ChildrenFn(ctx, projectID)
}
