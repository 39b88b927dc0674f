package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectBalance         = "credit_balance"
	ObjectTransaction     = "credit_transaction"
	ObjectPurchaseRequest = "purchase_request"
	ObjectPricing         = "credit_pricing"
	ObjectOrder           = "credit_order"
	ObjectMessage         = "message"
	ObjectNotification    = "payment_notification"
	ObjectAPIKey          = "api_key"
	ObjectAuditLog        = "audit_log"
)

const (
	ActionView    = "view"
	ActionCreate  = "create"
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionCredit  = "credit"
	ActionAdjust  = "adjust"
	ActionUpdate  = "update"
	ActionSend    = "send"
	ActionRevoke  = "revoke"
	ActionReplay  = "replay"

	ActionOrderReconcile = "reconcile"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, role string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	role = strings.ToLower(strings.TrimSpace(role))
	object = strings.TrimSpace(object)
	action = strings.TrimSpace(action)
	switch {
	case actor == "":
		return ErrInvalidActor
	case role == "":
		return ErrInvalidRole
	case object == "":
		return ErrInvalidObject
	case action == "":
		return ErrInvalidAction
	}

	roleName := "role:" + role
	if err := s.ensureGrouping(actor, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("actor", actor),
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link per actor, so a key whose role
// changed never keeps the old grants.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

// grants is the full policy set. Tenant grants are always scoped to the key's
// own tenant by the handlers.
var grants = map[string]map[string][]string{
	"role:tenant": {
		ObjectBalance:         {ActionView},
		ObjectTransaction:     {ActionView},
		ObjectPurchaseRequest: {ActionCreate},
		ObjectPricing:         {ActionView},
		ObjectOrder:           {ActionCreate, ActionView, ActionOrderReconcile},
		ObjectMessage:         {ActionSend},
	},
	"role:operator": {
		ObjectBalance:         {ActionView, ActionCredit, ActionAdjust},
		ObjectTransaction:     {ActionView},
		ObjectPurchaseRequest: {ActionView, ActionApprove, ActionReject},
		ObjectPricing:         {ActionView, ActionUpdate},
		ObjectOrder:           {ActionView, ActionOrderReconcile},
		ObjectNotification:    {ActionView, ActionReplay},
		ObjectAPIKey:          {ActionView, ActionCreate, ActionRevoke},
		ObjectAuditLog:        {ActionView},
	},
}

// seedPolicies adds whichever grants the policy table is missing.
func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	var missing [][]string
	for role, objects := range grants {
		for object, actions := range objects {
			for _, action := range actions {
				has, err := enforcer.HasPolicy(role, object, action)
				if err != nil {
					return err
				}
				if !has {
					missing = append(missing, []string{role, object, action})
				}
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	_, err := enforcer.AddPolicies(missing)
	return err
}
