package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	apperrors "wsotp/internal/errors"
	"wsotp/internal/ledger"
	"wsotp/internal/pool"
	"wsotp/internal/service"
	"wsotp/internal/storage"
	"wsotp/internal/tracker"
	"wsotp/pkg/protocol"
)

// Commands dispatches control plane requests to the application.
type Commands struct {
	Service *service.Service
	Store   storage.Store
	Pool    *pool.Pool
	Tracker *tracker.Tracker
	Ledger  *ledger.Ledger
}

// Dispatch implements Dispatcher.
func (c *Commands) Dispatch(ctx context.Context, req protocol.Request) (interface{}, error) {
	switch req.Command {
	case protocol.CmdAccountsList:
		var args protocol.UserArgs
		if err := decodeArgs(req, &args); err != nil {
			return nil, err
		}
		views, err := c.Service.Accounts(args.TelegramID)
		if err != nil {
			return nil, err
		}
		return accountsOf(views), nil

	case protocol.CmdAccountsAdd:
		var args protocol.AddAccountArgs
		if err := decodeArgs(req, &args); err != nil {
			return nil, err
		}
		if args.TelegramID == 0 || args.Username == "" || args.Password == "" {
			return nil, fmt.Errorf("telegram_id, username and password are required")
		}
		acc, created, err := c.Service.AddAccount(ctx, service.AccountRequest{
			TelegramID: args.TelegramID,
			CustomName: args.CustomName,
			Username:   args.Username,
			Password:   args.Password,
		})
		if err != nil {
			return nil, err
		}
		return protocol.AddAccountResult{
			Account: protocol.Account{
				ID:       acc.ID,
				Label:    acc.Label(),
				Username: acc.Username,
				Active:   acc.Active,
				LoggedIn: acc.Token != "",
				Capacity: c.Pool.Capacity(),
			},
			Created: created,
		}, nil

	case protocol.CmdAccountsRemove:
		var args protocol.RemoveAccountArgs
		if err := decodeArgs(req, &args); err != nil {
			return nil, err
		}
		return nil, c.Service.RemoveAccount(args.TelegramID, args.Username)

	case protocol.CmdPoolRefresh:
		var args protocol.RefreshArgs
		if err := decodeArgs(req, &args); err != nil {
			return nil, err
		}
		user, err := c.Store.GetUserByTelegramID(args.TelegramID)
		if err != nil {
			return nil, err
		}
		if args.AccountID != 0 {
			if _, err := c.Store.GetAccount(user.ID, args.AccountID); err != nil {
				return nil, fmt.Errorf("account %d: %w", args.AccountID, apperrors.ErrNotOwned)
			}
		}
		n := c.Service.Refresh(ctx, user.ID, args.AccountID)
		return protocol.RefreshResult{LoggedIn: n, Total: len(c.Pool.Accounts(user.ID))}, nil

	case protocol.CmdPoolStatus:
		return c.poolStatus(), nil

	case protocol.CmdTaskCancel:
		var args protocol.CancelArgs
		if err := decodeArgs(req, &args); err != nil {
			return nil, err
		}
		return nil, c.Tracker.Cancel(args.Phone)

	case protocol.CmdStats:
		return c.Stats()

	default:
		return nil, fmt.Errorf("unknown command %q", req.Command)
	}
}

func decodeArgs(req protocol.Request, v interface{}) error {
	if len(req.Args) == 0 {
		return fmt.Errorf("%s: missing arguments", req.Command)
	}
	if err := json.Unmarshal(req.Args, v); err != nil {
		return fmt.Errorf("%s: %w", req.Command, err)
	}
	return nil
}

func accountsOf(views []pool.AccountView) []protocol.Account {
	out := make([]protocol.Account, 0, len(views))
	for _, v := range views {
		out = append(out, protocol.Account{
			ID:       v.ID,
			Label:    v.Label,
			Username: v.Username,
			Active:   v.Active,
			LoggedIn: v.LoggedIn,
			Selected: v.Selected,
			Usage:    v.Usage,
			Capacity: v.Capacity,
		})
	}
	return out
}

func (c *Commands) poolStatus() protocol.PoolStatus {
	tasks := c.Tracker.Active()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].StartedAt.Before(tasks[j].StartedAt) })

	st := protocol.PoolStatus{LeasesInUse: c.Pool.InUse(), Tracking: len(tasks)}
	for _, t := range tasks {
		st.Tasks = append(st.Tasks, protocol.TrackedTask{
			Phone:   t.Phone,
			CC:      t.CC,
			UserID:  t.UserID,
			Account: t.Lease.Label,
			Status:  t.LastStatus,
			Checks:  t.Checks,
			Since:   t.StartedAt,
		})
	}
	return st
}

// Stats reports the ledger for the current accounting day.
func (c *Commands) Stats() (protocol.Stats, error) {
	s, err := c.Ledger.Snapshot()
	if err != nil {
		return protocol.Stats{}, err
	}
	return protocol.Stats{
		Day:          s.Day.Format("2006-01-02"),
		Added:        s.Added,
		Success:      s.Success,
		Deleted:      s.Deleted,
		Users:        len(s.Users),
		TotalAdded:   s.Totals.Added,
		TotalSuccess: s.Totals.Success,
		TotalDeleted: s.Totals.Deleted,
		NextReset:    c.Ledger.NextReset(c.Ledger.Now()),
	}, nil
}
