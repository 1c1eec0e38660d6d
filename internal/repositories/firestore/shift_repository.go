package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/tillpoint/api/internal/domain"
	pfirestore "github.com/tillpoint/api/internal/platform/firestore"
)

const shiftsCollection = "shifts"

// ShiftRepository persists drawer shifts.
type ShiftRepository struct {
	provider *pfirestore.Provider
	shifts   *pfirestore.BaseRepository[shiftDocument]
}

// NewShiftRepository constructs a Firestore-backed shift store.
func NewShiftRepository(provider *pfirestore.Provider) (*ShiftRepository, error) {
	if provider == nil {
		return nil, errors.New("shift repository requires firestore provider")
	}
	return &ShiftRepository{
		provider: provider,
		shifts:   pfirestore.NewBaseRepository[shiftDocument](provider, shiftsCollection, nil, nil),
	}, nil
}

func openAtStation(stationID string) pfirestore.QueryBuilder {
	return func(q firestore.Query) firestore.Query {
		return q.Where("stationId", "==", stationID).Where("status", "==", string(domain.ShiftOpen)).Limit(1)
	}
}

// Open inserts the session inside a transaction that first checks the station has no open shift.
func (r *ShiftRepository) Open(ctx context.Context, session domain.ShiftSession) error {
	if strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.StationID) == "" {
		return errors.New("shift repository: id and station are required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := r.shifts.QueryTx(ctx, tx, openAtStation(session.StationID))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return pfirestore.Conflict("shifts.open", "station "+session.StationID+" already has an open shift")
		}
		return r.shifts.CreateTx(ctx, tx, session.ID, newShiftDocument(session))
	}, pfirestore.WithTxName("shifts.open"))
}

// FindOpenByStation returns the station's open shift or a not-found error.
func (r *ShiftRepository) FindOpenByStation(ctx context.Context, stationID string) (domain.ShiftSession, error) {
	docs, err := r.shifts.Query(ctx, openAtStation(stationID))
	if err != nil {
		return domain.ShiftSession{}, err
	}
	if len(docs) == 0 {
		return domain.ShiftSession{}, pfirestore.NotFound("shifts.find_open", "open shift for "+stationID)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// FindByID loads a shift.
func (r *ShiftRepository) FindByID(ctx context.Context, shiftID string) (domain.ShiftSession, error) {
	doc, err := r.shifts.Get(ctx, shiftID)
	if err != nil {
		return domain.ShiftSession{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Save overwrites the stored session.
func (r *ShiftRepository) Save(ctx context.Context, session domain.ShiftSession) error {
	return r.shifts.Set(ctx, session.ID, newShiftDocument(session))
}
