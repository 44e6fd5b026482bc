package bot

import (
	"context"
	"errors"
	"slices"

	"github.com/goinginblind/support-ticket-bot/internal/session"
	"github.com/goinginblind/support-ticket-bot/internal/settings"
	"github.com/goinginblind/support-ticket-bot/internal/ticket"
)

var errNoOrganizations = errors.New("bot: no visible organizations in config")

const defaultClassificationText = "Выберите классификацию обращения:"

// organizationScene: два подшага: организация, потом филиал. Владеет Picker.
type organizationScene struct{ b *Bot }

func (o *organizationScene) ID() session.SceneID { return session.SceneOrganization }

func (o *organizationScene) Enter(_ context.Context, c *Context) error {
	orgs := o.b.settings.VisibleOrganizations()
	if len(orgs) == 0 {
		return errNoOrganizations
	}
	names := make([]string, 0, len(orgs))
	for _, org := range orgs {
		names = append(names, org.Name)
	}
	c.Session.Phase = session.PhasePickOrganization
	c.Session.Picker = nil
	_, err := c.Reply(o.b.sceneText(session.SceneOrganization, "Выберите организацию:"), pickerKeyboard(names))
	return err
}

func (o *organizationScene) Exit(c *Context) {
	c.Session.Picker = nil
}

func (o *organizationScene) Handle(ctx context.Context, c *Context) error {
	switch c.Text {
	case btnCancel:
		return cancelWizard(ctx, c)
	case btnBack:
		if c.Session.PickingBranch() {
			return c.Transition(ctx, session.SceneOrganization)
		}
		if _, err := c.Reply("Вы вернулись к выбору типа обращения.", removeKeyboard); err != nil {
			return err
		}
		return c.Transition(ctx, session.SceneTicketType)
	}

	if c.Session.PickingBranch() {
		return o.pickBranch(ctx, c)
	}
	return o.pickOrganization(ctx, c)
}

func (o *organizationScene) pickOrganization(ctx context.Context, c *Context) error {
	key, org, ok := o.b.settings.FindVisibleOrganization(c.Text)
	if !ok {
		c.Say("Пожалуйста, выберите организацию из списка.")
		return nil
	}
	sel := &c.Session.Selection
	sel.OrganizationKey = key
	sel.OrganizationName = org.Name

	branches := settings.SortedBranches(org)
	if len(branches) == 0 {
		sel.Branch = ticket.DefaultBranch
		return c.Transition(ctx, session.SceneClassification)
	}

	names := make([]string, 0, len(branches))
	for _, b := range branches {
		names = append(names, b.Name)
	}
	c.Session.Picker = &session.Picker{OrganizationKey: key, OrganizationName: org.Name, Branches: names}
	c.Session.Phase = session.PhasePickBranch
	_, err := c.Reply("Выберите филиал:", pickerKeyboard(names))
	return err
}

func (o *organizationScene) pickBranch(ctx context.Context, c *Context) error {
	if !slices.Contains(c.Session.Picker.Branches, c.Text) {
		c.Say("Пожалуйста, выберите филиал из списка.")
		return nil
	}
	c.Session.Selection.Branch = c.Text
	return c.Transition(ctx, session.SceneClassification)
}

// classificationScene. Владеет Choices.
type classificationScene struct{ b *Bot }

func (s *classificationScene) ID() session.SceneID { return session.SceneClassification }

func (s *classificationScene) Enter(_ context.Context, c *Context) error {
	choices := s.b.settings.Classifications()
	names := make([]string, 0, len(choices))
	for _, ch := range choices {
		names = append(names, ch.Name)
	}
	c.Session.Choices = names
	_, err := c.Reply(s.b.sceneText(session.SceneClassification, defaultClassificationText), pickerKeyboard(names))
	return err
}

func (s *classificationScene) Exit(c *Context) {
	c.Session.Choices = nil
}

func (s *classificationScene) Handle(ctx context.Context, c *Context) error {
	switch c.Text {
	case btnCancel:
		return cancelWizard(ctx, c)
	case btnBack:
		return c.Transition(ctx, session.SceneOrganization)
	}
	if !slices.Contains(c.Session.Choices, c.Text) {
		c.Say("Пожалуйста, выберите классификацию из списка.")
		return nil
	}
	c.Session.Selection.Classification = c.Text
	return c.Transition(ctx, session.SceneReportIssue)
}
