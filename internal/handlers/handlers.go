// Package handlers exposes the location lifecycle as dispatcher commands.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/parkspot/tracker/internal/dispatcher"
	"github.com/parkspot/tracker/internal/lifecycle"
	"github.com/parkspot/tracker/internal/logging"
	"github.com/parkspot/tracker/internal/timer"
	"github.com/parkspot/tracker/pkg/core"
)

// Command names understood by the dispatcher.
const (
	CmdCreate       = "location:create"
	CmdUpdate       = "location:update"
	CmdDelete       = "location:delete"
	CmdSelect       = "location:select"
	CmdExtendTimer  = "timer:extend"
	CmdCancelTimer  = "timer:cancel"
	CmdSyncManual   = "sync:manual"
	CmdConnectivity = "connectivity:report"
)

// ErrBadRequest marks arguments that could not be used.
var ErrBadRequest = errors.New("bad request")

// ConnectivityReporter accepts manual online/offline reports.
type ConnectivityReporter interface {
	Report(online bool) bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Manager      *lifecycle.Manager
	Connectivity ConnectivityReporter
	LogManager   *logging.SlogManager
	Clock        timer.Clock
	NewID        func() string
}

// IDArgs addresses one record.
type IDArgs struct {
	ID string `json:"id"`
}

// UpdateArgs carries a partial update.
type UpdateArgs struct {
	ID    string     `json:"id"`
	Patch core.Patch `json:"patch"`
}

// ExtendArgs pushes a timer back by Minutes.
type ExtendArgs struct {
	ID      string `json:"id"`
	Minutes int    `json:"minutes"`
}

// ConnectivityArgs is a manual connectivity report.
type ConnectivityArgs struct {
	Online bool `json:"online"`
}

// Service adapts dispatcher events to lifecycle calls.
type Service struct {
	deps Dependencies
}

// NewService creates a new handler service
func NewService(deps Dependencies) *Service {
	if deps.Clock == nil {
		deps.Clock = timer.SystemClock{}
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Service{deps: deps}
}

func (s *Service) writeLog(functionName, data, level string) {
	if s.deps.LogManager != nil {
		s.deps.LogManager.WriteLog(functionName, data, level)
	}
}

// Register installs every lifecycle command on d.
func (s *Service) Register(d *dispatcher.Dispatcher) {
	d.Register(CmdCreate, s.handleCreate, dispatcher.Logged())
	d.Register(CmdUpdate, s.handleUpdate, dispatcher.Logged())
	d.Register(CmdDelete, s.handleDelete, dispatcher.Logged())
	d.Register(CmdSelect, s.handleSelect)
	d.Register(CmdExtendTimer, s.handleExtend, dispatcher.Logged())
	d.Register(CmdCancelTimer, s.handleCancel, dispatcher.Logged())
	d.Register(CmdSyncManual, s.handleSync, dispatcher.Logged())
	d.Register(CmdConnectivity, s.handleConnectivity, dispatcher.Buffered(16))
}

// CreateLocation fills in the fields a client may leave out and hands the
// record to the manager. A missing id gets a fresh uuid, a missing
// timestamp becomes now.
func (s *Service) CreateLocation(ctx context.Context, rec core.LocationRecord) (core.LocationRecord, error) {
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		rec.ID = s.deps.NewID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.deps.Clock.Now()
	}
	pt, err := core.ParseParkingType(string(rec.ParkingType))
	if err != nil {
		return core.LocationRecord{}, fmt.Errorf("%w: %w", core.ErrInvalidRecord, err)
	}
	rec.ParkingType = pt
	return s.deps.Manager.Create(ctx, rec)
}

// UpdateLocation normalises the patch and hands it to the manager.
func (s *Service) UpdateLocation(ctx context.Context, id string, patch core.Patch) (core.LocationRecord, error) {
	if patch.ParkingType != nil {
		pt, err := core.ParseParkingType(string(*patch.ParkingType))
		if err != nil {
			return core.LocationRecord{}, fmt.Errorf("%w: %w", core.ErrInvalidRecord, err)
		}
		patch.ParkingType = &pt
	}
	return s.deps.Manager.Update(ctx, id, patch)
}

// ReportConnectivity forwards a manual status report. It returns whether
// the status changed.
func (s *Service) ReportConnectivity(online bool) (bool, error) {
	if s.deps.Connectivity == nil {
		return false, fmt.Errorf("%w: connectivity reports are not accepted", ErrBadRequest)
	}
	return s.deps.Connectivity.Report(online), nil
}

func (s *Service) handleCreate(ctx context.Context, e dispatcher.Event) (any, error) {
	var rec core.LocationRecord
	if err := decode(e, &rec); err != nil {
		return nil, err
	}
	return s.CreateLocation(ctx, rec)
}

func (s *Service) handleUpdate(ctx context.Context, e dispatcher.Event) (any, error) {
	var args UpdateArgs
	if err := decodeID(e, &args, &args.ID); err != nil {
		return nil, err
	}
	return s.UpdateLocation(ctx, args.ID, args.Patch)
}

func (s *Service) handleDelete(ctx context.Context, e dispatcher.Event) (any, error) {
	var args IDArgs
	if err := decodeID(e, &args, &args.ID); err != nil {
		return nil, err
	}
	if err := s.deps.Manager.Delete(ctx, args.ID); err != nil {
		return nil, err
	}
	return args.ID, nil
}

func (s *Service) handleSelect(ctx context.Context, e dispatcher.Event) (any, error) {
	var args IDArgs
	if err := decodeID(e, &args, &args.ID); err != nil {
		return nil, err
	}
	return s.deps.Manager.Select(ctx, args.ID)
}

func (s *Service) handleExtend(ctx context.Context, e dispatcher.Event) (any, error) {
	var args ExtendArgs
	if err := decodeID(e, &args, &args.ID); err != nil {
		return nil, err
	}
	return s.deps.Manager.ExtendTimer(ctx, args.ID, args.Minutes)
}

func (s *Service) handleCancel(ctx context.Context, e dispatcher.Event) (any, error) {
	var args IDArgs
	if err := decodeID(e, &args, &args.ID); err != nil {
		return nil, err
	}
	return s.deps.Manager.CancelTimer(ctx, args.ID)
}

func (s *Service) handleSync(ctx context.Context, _ dispatcher.Event) (any, error) {
	return s.deps.Manager.Reconciler().TriggerManual(ctx)
}

func (s *Service) handleConnectivity(_ context.Context, e dispatcher.Event) (any, error) {
	var args ConnectivityArgs
	if err := decode(e, &args); err != nil {
		s.writeLog(CmdConnectivity, err.Error(), "ERROR")
		return nil, err
	}
	return s.ReportConnectivity(args.Online)
}

func decode(e dispatcher.Event, v any) error {
	if err := e.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

func decodeID(e dispatcher.Event, v any, id *string) error {
	if err := decode(e, v); err != nil {
		return err
	}
	*id = strings.TrimSpace(*id)
	if *id == "" {
		return fmt.Errorf("%w: %s requires an id", ErrBadRequest, e.Command)
	}
	return nil
}
