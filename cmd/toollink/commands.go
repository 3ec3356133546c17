package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/toollink/internal/auth"
	"github.com/and161185/toollink/internal/config"
	"github.com/and161185/toollink/internal/gate"
	"github.com/and161185/toollink/internal/model"
	"github.com/and161185/toollink/internal/portal"
	"github.com/and161185/toollink/internal/rbac"
	"github.com/and161185/toollink/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"login":      cmdLogin,
	"register":   cmdRegister,
	"logout":     cmdLogout,
	"whoami":     cmdWhoami,
	"can":        cmdCan,
	"watch":      cmdWatch,
	"inventory":  cmdInventory,
	"orders":     cmdOrders,
	"deliveries": cmdDeliveries,
	"deliver":    cmdDeliver,
}

func subFlags(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := subFlags("login", a.out)
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("need -email and -password")
	}

	res, err := a.mgr.Login(ctx, *email, *password)
	if err != nil {
		if res.RemainingAttempts != nil {
			fmt.Fprintf(a.out, "attempts remaining: %d\n", *res.RemainingAttempts)
		}
		if res.ShowForgotPassword {
			fmt.Fprintln(a.out, "forgot your password? contact your administrator to reset it")
		}
		return err
	}
	id := a.mgr.CurrentUser()
	fmt.Fprintf(a.out, "ok: %s (%s)\n", id.Email, id.Role)
	return nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := subFlags("register", a.out)
	var req model.RegisterRequest
	var role string
	fs.StringVar(&req.Email, "email", "", "email")
	fs.StringVar(&req.Password, "password", "", "password")
	fs.StringVar(&req.Name, "name", "", "display name")
	fs.StringVar(&req.Phone, "phone", "", "phone")
	fs.StringVar(&req.Company, "company", "", "company")
	fs.StringVar(&role, "role", string(model.RoleCustomer), "requested role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if req.Email == "" || req.Password == "" {
		return errors.New("need -email and -password")
	}
	req.Role = model.NormalizeRole(model.Role(role))

	res, err := a.mgr.Register(ctx, req)
	if err != nil {
		return err
	}
	switch {
	case res.RequiresApproval:
		fmt.Fprintln(a.out, "registered; an administrator must approve the account before you can log in")
	case a.mgr.IsAuthenticated():
		fmt.Fprintln(a.out, "registered and logged in")
	default:
		fmt.Fprintln(a.out, "registered; run toollink login")
	}
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	a.mgr.Logout(ctx)
	fmt.Fprintln(a.out, "ok")
	return nil
}

func cmdWhoami(_ context.Context, a *app, _ []string) error {
	id := a.mgr.CurrentUser()
	if id == nil {
		fmt.Fprintln(a.out, "anonymous")
		return nil
	}
	printJSON(a.out, struct {
		User     *model.Identity    `json:"user"`
		State    string             `json:"state"`
		Verified bool               `json:"verified"`
		Perms    []model.Permission `json:"permissions"`
	}{id, a.mgr.State().String(), a.mgr.Verified(), rbac.RolePermissions(id.Role)})
	return nil
}

func cmdCan(ctx context.Context, a *app, args []string) error {
	fs := subFlags("can", a.out)
	perm := fs.String("perm", "", "comma-separated permissions, any of which suffices")
	roles := fs.String("roles", "", "comma-separated roles, any of which suffices")
	route := fs.String("route", "", "portal route, e.g. /inventory/new")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var res gate.Result
	if *route != "" {
		res = a.gate.CheckRoute(ctx, *route)
	} else {
		req := gate.Requirement{}
		for _, p := range splitList(*perm) {
			req.Permissions = append(req.Permissions, model.Permission(p))
		}
		for _, r := range splitList(*roles) {
			req.Roles = append(req.Roles, model.Role(r))
		}
		res = a.gate.Check(ctx, req)
	}
	if res.Route != "" {
		fmt.Fprintf(a.out, "%s %s\n", res.Decision, res.Route)
	} else {
		fmt.Fprintln(a.out, res.Decision)
	}
	return nil
}

func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := subFlags("watch", a.out)
	metricsAddr := fs.String("metrics-addr", "", "serve prometheus metrics on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	a.transitions = func(from, to auth.State) {
		fmt.Fprintf(a.out, "%s -> %s\n", from, to)
	}
	fmt.Fprintln(a.out, a.mgr.State())
	if err := a.mgr.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func cmdInventory(ctx context.Context, a *app, args []string) error {
	fs := subFlags("inventory", a.out)
	add := fs.Bool("add", false, "create an item instead of listing")
	var item portal.InventoryItem
	fs.StringVar(&item.Name, "name", "", "item name")
	fs.StringVar(&item.SKU, "sku", "", "stock keeping unit")
	fs.StringVar(&item.Category, "category", "", "category")
	fs.IntVar(&item.Quantity, "qty", 0, "quantity")
	fs.StringVar(&item.Unit, "unit", "", "unit of measure")
	fs.Float64Var(&item.Price, "price", 0, "unit price")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *add {
		created, err := a.portal.CreateInventoryItem(ctx, item)
		if err != nil {
			return err
		}
		printJSON(a.out, created)
		return nil
	}
	items, err := a.portal.ListInventory(ctx)
	if err != nil {
		return err
	}
	printJSON(a.out, items)
	return nil
}

func cmdOrders(ctx context.Context, a *app, args []string) error {
	fs := subFlags("orders", a.out)
	approve := fs.String("approve", "", "approve the order with this id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *approve != "" {
		o, err := a.portal.ApproveOrder(ctx, *approve)
		if err != nil {
			return err
		}
		printJSON(a.out, o)
		return nil
	}
	orders, err := a.portal.ListOrders(ctx)
	if err != nil {
		return err
	}
	printJSON(a.out, orders)
	return nil
}

func cmdDeliveries(ctx context.Context, a *app, _ []string) error {
	ds, err := a.portal.ListDeliveries(ctx)
	if err != nil {
		return err
	}
	printJSON(a.out, ds)
	return nil
}

func cmdDeliver(ctx context.Context, a *app, args []string) error {
	fs := subFlags("deliver", a.out)
	id := fs.String("id", "", "delivery id")
	status := fs.String("status", "", "pending|assigned|picked_up|in_transit|delivered|failed")
	note := fs.String("note", "", "note for the dispatcher")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := portal.ParseDeliveryStatus(*status)
	if err != nil {
		return err
	}
	d, err := a.portal.ProposeDeliveryStatus(ctx, *id, st, *note)
	if err != nil {
		return err
	}
	printJSON(a.out, d)
	return nil
}

// cmdTheme only touches storage, so it runs without a session.
func cmdTheme(cfg config.Config, args []string, out io.Writer) error {
	kv, err := store.NewFile(cfg.StorageDir)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		fmt.Fprintln(out, store.LoadTheme(kv))
		return nil
	}
	if err := store.SaveTheme(kv, store.Theme(args[0])); err != nil {
		return err
	}
	fmt.Fprintln(out, args[0])
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
