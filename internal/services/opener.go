package services

import (
	"context"

	"naviguard/backend/internal/browser"
	"naviguard/backend/internal/models"
)

// ManagerOpener opens scheduled-run sessions through the browser manager.
type ManagerOpener struct {
	Manager *browser.Manager
}

func (o ManagerOpener) OpenHeadless(ctx context.Context, user models.UserSession) (ReplayTarget, error) {
	s, err := o.Manager.Open(ctx, browser.OpenOptions{User: user, URL: "about:blank", Headless: true})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (o ManagerOpener) Close(id string) error {
	return o.Manager.Close(id)
}
