package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nupi-ai/svchost/internal/settings"
)

func normalizeModelName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultModel
	}
	return name
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// SaveModel stores m under name, replacing any previous model of that name.
// The implementation and callback handler are process state and are not
// persisted.
func (s *Store) SaveModel(ctx context.Context, name string, m *settings.Model) error {
	if m == nil {
		return fmt.Errorf("config: save model: model is nil")
	}
	name = normalizeModelName(name)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM models WHERE name = ?`, name); err != nil {
			return fmt.Errorf("config: clear model %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO models (name, show_error_detail_to_client, port_sharing_enabled, client_callback_base_address, metadata_port)
			VALUES (?, ?, ?, ?, ?)
		`, name, boolToInt(m.ShowErrorDetailToClient), boolToInt(m.PortSharingEnabled), m.ClientCallbackBaseAddress, m.MetadataPort); err != nil {
			return fmt.Errorf("config: insert model %s: %w", name, err)
		}

		if m.Bindings != nil {
			for _, catalog := range m.Bindings.All() {
				for _, bindingName := range catalog.Names() {
					params, _ := catalog.Get(bindingName)
					raw, err := encodeJSON(params)
					if err != nil {
						return fmt.Errorf("config: encode binding %s/%s: %w", catalog.Kind(), bindingName, err)
					}
					if _, err := tx.ExecContext(ctx, `
						INSERT INTO bindings (model_name, kind, name, params) VALUES (?, ?, ?, ?)
					`, name, catalog.Kind().String(), bindingName, raw); err != nil {
						return fmt.Errorf("config: insert binding %s/%s: %w", catalog.Kind(), bindingName, err)
					}
				}
			}
		}

		if m.Behaviors != nil {
			for _, policyName := range m.Behaviors.ServiceNames() {
				policy, _ := m.Behaviors.Service(policyName)
				raw, err := encodeJSON(policy)
				if err != nil {
					return fmt.Errorf("config: encode service behavior %s: %w", policyName, err)
				}
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO service_policies (model_name, name, policy) VALUES (?, ?, ?)
				`, name, policyName, raw); err != nil {
					return fmt.Errorf("config: insert service behavior %s: %w", policyName, err)
				}
			}
			for _, policyName := range m.Behaviors.ClientNames() {
				policy, _ := m.Behaviors.Client(policyName)
				raw, err := encodeJSON(policy)
				if err != nil {
					return fmt.Errorf("config: encode client behavior %s: %w", policyName, err)
				}
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO client_policies (model_name, name, policy) VALUES (?, ?, ?)
				`, name, policyName, raw); err != nil {
					return fmt.Errorf("config: insert client behavior %s: %w", policyName, err)
				}
			}
		}

		for _, serviceName := range m.ServiceNames() {
			svc := m.Services[serviceName]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO services (model_name, name, behavior_name) VALUES (?, ?, ?)
			`, name, serviceName, svc.BehaviorName); err != nil {
				return fmt.Errorf("config: insert service %s: %w", serviceName, err)
			}
			for pos, ep := range svc.Endpoints {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO service_endpoints (model_name, service_name, position, address, contract, binding_name, kind)
					VALUES (?, ?, ?, ?, ?, ?, ?)
				`, name, serviceName, pos, ep.Address, ep.Contract, ep.BindingName, ep.Kind.String()); err != nil {
					return fmt.Errorf("config: insert endpoint %s of %s: %w", ep.Address, serviceName, err)
				}
			}
		}

		for pos, c := range m.Clients {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO client_endpoints (model_name, position, name, address, contract, binding_name, behavior_name, kind)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, name, pos, c.Name, c.Address, c.Contract, c.BindingName, c.BehaviorName, c.Kind.String()); err != nil {
				return fmt.Errorf("config: insert client %s: %w", c.Address, err)
			}
		}
		return nil
	})
}

// LoadModel reads the model stored under name. The returned model has no
// implementation attached.
func (s *Store) LoadModel(ctx context.Context, name string) (*settings.Model, error) {
	name = normalizeModelName(name)

	globals, err := scanGlobals(s.db.QueryRowContext(ctx, `
		SELECT show_error_detail_to_client, port_sharing_enabled, client_callback_base_address, metadata_port, updated_at
		FROM models WHERE name = ?
	`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundError{Entity: "model", Key: name}
	}
	if err != nil {
		return nil, fmt.Errorf("config: load model %s: %w", name, err)
	}

	m := settings.New()
	m.ShowErrorDetailToClient = globals.ShowErrorDetailToClient
	m.PortSharingEnabled = globals.PortSharingEnabled
	m.ClientCallbackBaseAddress = globals.ClientCallbackBaseAddress
	m.MetadataPort = globals.MetadataPort

	rows, err := s.db.QueryContext(ctx, `SELECT kind, name, params FROM bindings WHERE model_name = ? ORDER BY kind, name`, name)
	if err != nil {
		return nil, fmt.Errorf("config: query bindings: %w", err)
	}
	bindings, err := scanList(rows, scanBinding, "config: scan binding", "config: iterate bindings")
	if err != nil {
		return nil, err
	}
	for _, params := range bindings {
		catalog, err := m.Bindings.For(params.Kind)
		if err != nil {
			return nil, err
		}
		catalog.Put(params.Name, params)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT name, policy FROM service_policies WHERE model_name = ? ORDER BY name`, name)
	if err != nil {
		return nil, fmt.Errorf("config: query service behaviors: %w", err)
	}
	servicePolicies, err := scanList(rows, scanServicePolicy, "config: scan service behavior", "config: iterate service behaviors")
	if err != nil {
		return nil, err
	}
	for _, p := range servicePolicies {
		m.Behaviors.PutService(p.Name, p)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT name, policy FROM client_policies WHERE model_name = ? ORDER BY name`, name)
	if err != nil {
		return nil, fmt.Errorf("config: query client behaviors: %w", err)
	}
	clientPolicies, err := scanList(rows, scanClientPolicy, "config: scan client behavior", "config: iterate client behaviors")
	if err != nil {
		return nil, err
	}
	for _, p := range clientPolicies {
		m.Behaviors.PutClient(p.Name, p)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT name, behavior_name FROM services WHERE model_name = ? ORDER BY name`, name)
	if err != nil {
		return nil, fmt.Errorf("config: query services: %w", err)
	}
	services, err := scanList(rows, scanService, "config: scan service", "config: iterate services")
	if err != nil {
		return nil, err
	}
	for _, svc := range services {
		m.Services[svc.Name] = svc
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT service_name, address, contract, binding_name, kind
		FROM service_endpoints WHERE model_name = ? ORDER BY service_name, position
	`, name)
	if err != nil {
		return nil, fmt.Errorf("config: query service endpoints: %w", err)
	}
	endpoints, err := scanList(rows, scanServiceEndpoint, "config: scan service endpoint", "config: iterate service endpoints")
	if err != nil {
		return nil, err
	}
	for _, row := range endpoints {
		svc, ok := m.Services[row.Service]
		if !ok {
			return nil, fmt.Errorf("config: endpoint %s references unknown service %s", row.Endpoint.Address, row.Service)
		}
		svc.Endpoints = append(svc.Endpoints, row.Endpoint)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT name, address, contract, binding_name, behavior_name, kind
		FROM client_endpoints WHERE model_name = ? ORDER BY position
	`, name)
	if err != nil {
		return nil, fmt.Errorf("config: query client endpoints: %w", err)
	}
	clients, err := scanList(rows, scanClientEndpoint, "config: scan client endpoint", "config: iterate client endpoints")
	if err != nil {
		return nil, err
	}
	m.Clients = clients

	return m, nil
}

// ListModels returns the stored model names in lexical order.
func (s *Store) ListModels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM models ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("config: list models: %w", err)
	}
	return scanList(rows, scanString, "config: scan model name", "config: iterate models")
}

// DeleteModel removes the model stored under name together with its
// catalogs and endpoints.
func (s *Store) DeleteModel(ctx context.Context, name string) error {
	name = normalizeModelName(name)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM models WHERE name = ?`, name)
		if err != nil {
			return fmt.Errorf("config: delete model %s: %w", name, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("config: delete model %s: %w", name, err)
		}
		if affected == 0 {
			return NotFoundError{Entity: "model", Key: name}
		}
		return nil
	})
}
