// Package directorytest provides a testify mock of core.DirectoryService.
package directorytest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/modoterra/vrcguard/pkg/core"
)

// Directory is a mock.Mock backed core.DirectoryService.
type Directory struct {
	mock.Mock
}

var _ core.DirectoryService = (*Directory)(nil)

func (d *Directory) GetProfile(ctx context.Context, id string) (core.Profile, error) {
	args := d.Called(ctx, id)
	return args.Get(0).(core.Profile), args.Error(1)
}

func (d *Directory) Ban(ctx context.Context, groupID, id string) error {
	return d.Called(ctx, groupID, id).Error(0)
}

func (d *Directory) Invite(ctx context.Context, groupID, id string) error {
	return d.Called(ctx, groupID, id).Error(0)
}
