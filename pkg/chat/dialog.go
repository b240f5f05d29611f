package chat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/meszmate/chatkit/internal/rest"
)

var validate = validator.New()

// DialogType classifies a dialog resource.
type DialogType int

const (
	DialogBroadcast DialogType = 1
	DialogGroup     DialogType = 2
	DialogOneToOne  DialogType = 3
)

// Dialog is a conversation resource. OccupantIDs is always sorted ascending
// so results are comparable across clients; RoomAddress is empty for 1-1
// dialogs.
type Dialog struct {
	ID          string
	Type        DialogType
	Name        string
	OccupantIDs []int
	RoomAddress string
	CreatorID   int
	LastMessage string
}

// CreateDialogParams describes a dialog to create. The creator is implied by
// the session and always joins the occupant set.
type CreateDialogParams struct {
	Type        DialogType `validate:"required,oneof=1 2 3"`
	Name        string
	OccupantIDs []int `validate:"required_if=Type 2,dive,gt=0"`
}

// DialogFilters narrows a listing. The zero value lists every dialog
// visible to the caller.
type DialogFilters struct {
	Type          DialogType
	Name          string
	ParticipantID int
	Limit         int
	Skip          int
}

// DialogChanges is a partial update. When both are present, adds are applied
// before removes, so an id named in both ends up removed.
type DialogChanges struct {
	Rename          string
	AddOccupants    []int
	RemoveOccupants []int
}

// DialogRegistry is the REST-backed CRUD surface over dialogs. Calls are
// independent request/response exchanges with no ordering guarantee relative
// to each other or to the stream; a just-created dialog may lag a concurrent
// listing.
type DialogRegistry struct {
	rest   *rest.Client
	userID func() int
	log    zerolog.Logger
}

// Create creates a dialog. The returned occupant set is the sorted union of
// the creator and the requested occupants.
func (d *DialogRegistry) Create(ctx context.Context, params CreateDialogParams) (*Dialog, error) {
	if err := validate.Struct(params); err != nil {
		return nil, asValidationError(err)
	}

	occupants := params.OccupantIDs
	if creator := d.userID(); creator != 0 {
		occupants = append([]int{creator}, occupants...)
	}

	out, err := d.rest.CreateDialog(ctx, rest.CreateDialogParams{
		Type:         int(params.Type),
		Name:         params.Name,
		OccupantsIDs: sortedSet(occupants),
	})
	if err != nil {
		return nil, mapRESTError(err)
	}

	dialog := fromRESTDialog(out)
	d.log.Debug().Str("dialog_id", dialog.ID).Msg("dialog created")
	return &dialog, nil
}

// List returns the dialogs matching the filters as an ordered sequence. A
// nil filter lists everything visible to the caller.
func (d *DialogRegistry) List(ctx context.Context, filters *DialogFilters) ([]Dialog, error) {
	query := url.Values{}
	if filters != nil {
		if filters.Type != 0 {
			query.Set("type", strconv.Itoa(int(filters.Type)))
		}
		if filters.Name != "" {
			query.Set("name", filters.Name)
		}
		if filters.ParticipantID != 0 {
			query.Set("occupants_ids[all]", strconv.Itoa(filters.ParticipantID))
		}
		if filters.Limit > 0 {
			query.Set("limit", strconv.Itoa(filters.Limit))
		}
		if filters.Skip > 0 {
			query.Set("skip", strconv.Itoa(filters.Skip))
		}
	}

	page, err := d.rest.ListDialogs(ctx, query)
	if err != nil {
		return nil, mapRESTError(err)
	}

	dialogs := make([]Dialog, 0, len(page.Items))
	for i := range page.Items {
		dialogs = append(dialogs, fromRESTDialog(&page.Items[i]))
	}
	return dialogs, nil
}

// Update applies a partial update: rename and occupant add/remove.
func (d *DialogRegistry) Update(ctx context.Context, dialogID string, changes DialogChanges) (*Dialog, error) {
	if dialogID == "" {
		return nil, &ValidationError{Field: "dialogID", Reason: "must not be empty"}
	}

	params := rest.UpdateDialogParams{Name: changes.Rename}
	if len(changes.AddOccupants) > 0 {
		params.PushAll = &rest.OccupantsPatch{OccupantsIDs: sortedSet(changes.AddOccupants)}
	}
	if len(changes.RemoveOccupants) > 0 {
		params.PullAll = &rest.OccupantsPatch{OccupantsIDs: sortedSet(changes.RemoveOccupants)}
	}

	out, err := d.rest.UpdateDialog(ctx, dialogID, params)
	if err != nil {
		return nil, mapRESTError(err)
	}

	dialog := fromRESTDialog(out)
	return &dialog, nil
}

// Delete removes a dialog. Deleting an unknown id is treated as success so
// retries stay simple.
func (d *DialogRegistry) Delete(ctx context.Context, dialogID string) error {
	if dialogID == "" {
		return &ValidationError{Field: "dialogID", Reason: "must not be empty"}
	}

	err := mapRESTError(d.rest.DeleteDialog(ctx, dialogID))
	if errors.Is(err, ErrNotFound) {
		d.log.Debug().Str("dialog_id", dialogID).Msg("dialog already deleted")
		return nil
	}
	return err
}

// sortedSet deduplicates and sorts ids ascending.
func sortedSet(ids []int) []int {
	out := lo.Uniq(ids)
	sort.Ints(out)
	return out
}

func fromRESTDialog(d *rest.Dialog) Dialog {
	return Dialog{
		ID:          d.ID,
		Type:        DialogType(d.Type),
		Name:        d.Name,
		OccupantIDs: sortedSet(d.OccupantsIDs),
		RoomAddress: d.XMPPRoomJID,
		CreatorID:   d.UserID,
		LastMessage: d.LastMessage,
	}
}

// asValidationError converts validator failures into the public taxonomy.
func asValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Reason: fmt.Sprintf("failed %q constraint", fe.Tag())}
	}
	return err
}
