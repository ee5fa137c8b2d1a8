// Package util navigates the device's menus and wraps the common print,
// find and edit commands of a menu.
//
// A Util keeps a current menu ("/queue/simple") that commands are relative
// to. Items are addressed by id ("*1A") or by position in the menu's listing.
package util

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Zereker/routeros"
)

// Errors returned by Util.
var (
	// ErrMenuMismatch is returned for commands that would leave the current menu.
	ErrMenuMismatch = errors.New("util: command is not part of the menu")
	// ErrNotFound is returned when no item matches.
	ErrNotFound = errors.New("util: no matching item")
)

// Sender sends a request and waits for all of its replies.
// *routeros.Client implements it.
type Sender interface {
	SendSync(ctx context.Context, req *routeros.Request) (routeros.Responses, error)
}

// Util runs commands relative to a menu. It is not safe for concurrent use
// while the menu is being changed.
type Util struct {
	client Sender
	menu   string
}

// New returns a Util positioned at the root menu.
func New(client Sender) *Util {
	return &Util{client: client, menu: "/"}
}

// Menu returns the current menu.
func (u *Util) Menu() string {
	return u.menu
}

// SetMenu changes the current menu. path is absolute when it starts with
// '/', relative otherwise; ".." moves to the parent. Segments are separated
// by '/' or by spaces as on the command line.
func (u *Util) SetMenu(path string) *Util {
	var segments []string
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		segments = splitPath(u.menu)
	}

	for _, s := range splitPath(path) {
		switch s {
		case ".":
		case "..":
			if len(segments) > 0 {
				segments = segments[:len(segments)-1]
			}
		default:
			segments = append(segments, s)
		}
	}
	u.menu = "/" + strings.Join(segments, "/")
	return u
}

func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == ' ' || r == '\t'
	})
}

// NewRequest builds a request for command in the current menu. args are
// name/value pairs as for routeros.NewRequest; q and tag may be empty.
func (u *Util) NewRequest(command string, args []string, q routeros.Query, tag string) (*routeros.Request, error) {
	command = strings.TrimSpace(command)
	switch {
	case command == "" || strings.ContainsAny(command, " \t"):
		return nil, errors.Wrapf(routeros.ErrInvalidCommand, "%q", command)
	case strings.Contains(command, "/"):
		return nil, errors.Wrapf(ErrMenuMismatch, "%q", command)
	}

	path := u.menu + "/" + command
	if u.menu == "/" {
		path = "/" + command
	}

	req := routeros.NewRequest(path, args...)
	if q != nil {
		req.SetQuery(q)
	}
	req.SetTag(tag)
	return req, nil
}

// exec sends a request in the current menu and turns a trap into an error.
func (u *Util) exec(ctx context.Context, command string, args []string, q routeros.Query) (routeros.Responses, error) {
	req, err := u.NewRequest(command, args, q, "")
	if err != nil {
		return nil, err
	}
	replies, err := u.client.SendSync(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := replies.Err(); err != nil {
		return nil, err
	}
	return replies, nil
}

// Criterion selects items for Find.
type Criterion interface {
	ids(ctx context.Context, u *Util) ([]string, error)
}

type queryCriterion struct {
	q routeros.Query
}

func (c queryCriterion) ids(ctx context.Context, u *Util) ([]string, error) {
	replies, err := u.exec(ctx, "print", []string{".proplist", ".id"}, c.q)
	if err != nil {
		return nil, err
	}
	return idsOf(replies.Data()), nil
}

type funcCriterion func(*routeros.Response) bool

func (c funcCriterion) ids(ctx context.Context, u *Util) ([]string, error) {
	items, err := u.GetAll(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, item := range items {
		if c(item) {
			out = append(out, item.ID())
		}
	}
	return out, nil
}

type listCriterion string

func (c listCriterion) ids(ctx context.Context, u *Util) ([]string, error) {
	var (
		out []string
		all []string
	)
	for _, item := range strings.Split(string(c), ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		pos, err := strconv.Atoi(item)
		if err != nil {
			// ids and names are passed through
			out = append(out, item)
			continue
		}

		if all == nil {
			if all, err = (queryCriterion{}).ids(ctx, u); err != nil {
				return nil, err
			}
		}
		if pos >= 0 && pos < len(all) {
			out = append(out, all[pos])
		}
	}
	return out, nil
}

// ByQuery selects the items matching q.
func ByQuery(q routeros.Query) Criterion {
	return queryCriterion{q: q}
}

// ByFunc selects the items for which fn returns true.
func ByFunc(fn func(item *routeros.Response) bool) Criterion {
	return funcCriterion(fn)
}

// ByList selects items from a comma separated list of positions in the
// listing and ids. Empty entries are skipped.
func ByList(list string) Criterion {
	return listCriterion(list)
}

// Find returns the comma separated ids of the items matching any criterion,
// or of every item without criteria.
func (u *Util) Find(ctx context.Context, criteria ...Criterion) (string, error) {
	if len(criteria) == 0 {
		criteria = []Criterion{queryCriterion{}}
	}

	var out []string
	seen := make(map[string]bool)
	for _, c := range criteria {
		ids, err := c.ids(ctx, u)
		if err != nil {
			return "", err
		}
		for _, id := range ids {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return strings.Join(out, ","), nil
}

func idsOf(items []*routeros.Response) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID())
	}
	return out
}

// resolve returns the ids for numbers, failing when nothing matches.
func (u *Util) resolve(ctx context.Context, numbers string) (string, error) {
	ids, err := u.Find(ctx, ByList(numbers))
	if err != nil {
		return "", err
	}
	if ids == "" {
		return "", errors.Wrapf(ErrNotFound, "%q in %s", numbers, u.menu)
	}
	return ids, nil
}

// GetAll returns every item of the menu, optionally filtered by q.
func (u *Util) GetAll(ctx context.Context, args []string, q routeros.Query) ([]*routeros.Response, error) {
	replies, err := u.exec(ctx, "print", args, q)
	if err != nil {
		return nil, err
	}
	return replies.Data(), nil
}

// Count returns the number of items matching q, or of every item when q is nil.
func (u *Util) Count(ctx context.Context, q routeros.Query) (int, error) {
	replies, err := u.exec(ctx, "print", []string{"count-only", ""}, q)
	if err != nil {
		return -1, err
	}

	ret := replies.Get("ret")
	n, err := strconv.Atoi(ret)
	if err != nil {
		return -1, errors.Wrapf(err, "util: invalid count %q", ret)
	}
	return n, nil
}

// Get returns one property of the item given by id or position.
func (u *Util) Get(ctx context.Context, number, property string) (string, error) {
	id, err := u.resolve(ctx, number)
	if err != nil {
		return "", err
	}

	replies, err := u.exec(ctx, "get", []string{"number", id, "value-name", property}, nil)
	if err != nil {
		return "", err
	}
	return replies.Get("ret"), nil
}

// Add creates an item and returns its id.
func (u *Util) Add(ctx context.Context, args ...string) (string, error) {
	replies, err := u.exec(ctx, "add", args, nil)
	if err != nil {
		return "", err
	}
	return replies.Get("ret"), nil
}

// Set changes properties of the items given by ids or positions.
func (u *Util) Set(ctx context.Context, numbers string, args ...string) error {
	return u.edit(ctx, "set", numbers, args...)
}

// Unset clears a property of the items given by ids or positions.
func (u *Util) Unset(ctx context.Context, numbers, property string) error {
	return u.edit(ctx, "unset", numbers, "value-name", property)
}

// Remove deletes the items given by ids or positions.
func (u *Util) Remove(ctx context.Context, numbers string) error {
	return u.edit(ctx, "remove", numbers)
}

// Enable enables the items given by ids or positions.
func (u *Util) Enable(ctx context.Context, numbers string) error {
	return u.edit(ctx, "enable", numbers)
}

// Disable disables the items given by ids or positions.
func (u *Util) Disable(ctx context.Context, numbers string) error {
	return u.edit(ctx, "disable", numbers)
}

func (u *Util) edit(ctx context.Context, command, numbers string, args ...string) error {
	ids, err := u.resolve(ctx, numbers)
	if err != nil {
		return err
	}
	_, err = u.exec(ctx, command, append([]string{"numbers", ids}, args...), nil)
	return err
}
