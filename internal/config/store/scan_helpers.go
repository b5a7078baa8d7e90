package store

import (
	"fmt"

	"github.com/nupi-ai/svchost/internal/behavior"
	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/settings"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type globalsRow struct {
	ShowErrorDetailToClient   bool
	PortSharingEnabled        bool
	ClientCallbackBaseAddress string
	MetadataPort              int
	UpdatedAt                 string
}

func scanGlobals(scanner rowScanner) (globalsRow, error) {
	var (
		row              globalsRow
		showErr, sharing int
	)
	err := scanner.Scan(&showErr, &sharing, &row.ClientCallbackBaseAddress, &row.MetadataPort, &row.UpdatedAt)
	row.ShowErrorDetailToClient = showErr != 0
	row.PortSharingEnabled = sharing != 0
	return row, err
}

func scanBinding(scanner rowScanner) (binding.Parameters, error) {
	var kindName, name, raw string
	if err := scanner.Scan(&kindName, &name, &raw); err != nil {
		return binding.Parameters{}, err
	}
	kind, err := binding.ParseKind(kindName)
	if err != nil {
		return binding.Parameters{}, err
	}
	params, err := decodeJSON[binding.Parameters](raw)
	if err != nil {
		return binding.Parameters{}, fmt.Errorf("decode binding %s/%s: %w", kindName, name, err)
	}
	params.Name = name
	params.Kind = kind
	return params, nil
}

func scanServicePolicy(scanner rowScanner) (behavior.ServicePolicy, error) {
	var name, raw string
	if err := scanner.Scan(&name, &raw); err != nil {
		return behavior.ServicePolicy{}, err
	}
	policy, err := decodeJSON[behavior.ServicePolicy](raw)
	if err != nil {
		return behavior.ServicePolicy{}, fmt.Errorf("decode service behavior %s: %w", name, err)
	}
	policy.Name = name
	return policy, nil
}

func scanClientPolicy(scanner rowScanner) (behavior.ClientPolicy, error) {
	var name, raw string
	if err := scanner.Scan(&name, &raw); err != nil {
		return behavior.ClientPolicy{}, err
	}
	policy, err := decodeJSON[behavior.ClientPolicy](raw)
	if err != nil {
		return behavior.ClientPolicy{}, fmt.Errorf("decode client behavior %s: %w", name, err)
	}
	policy.Name = name
	return policy, nil
}

func scanService(scanner rowScanner) (*settings.ServiceDescriptor, error) {
	var svc settings.ServiceDescriptor
	if err := scanner.Scan(&svc.Name, &svc.BehaviorName); err != nil {
		return nil, err
	}
	return &svc, nil
}

type serviceEndpointRow struct {
	Service  string
	Endpoint settings.EndpointDescriptor
}

func scanServiceEndpoint(scanner rowScanner) (serviceEndpointRow, error) {
	var (
		row      serviceEndpointRow
		kindName string
	)
	if err := scanner.Scan(&row.Service, &row.Endpoint.Address, &row.Endpoint.Contract, &row.Endpoint.BindingName, &kindName); err != nil {
		return serviceEndpointRow{}, err
	}
	kind, err := binding.ParseKind(kindName)
	if err != nil {
		return serviceEndpointRow{}, err
	}
	row.Endpoint.Kind = kind
	return row, nil
}

func scanClientEndpoint(scanner rowScanner) (*settings.ClientEndpoint, error) {
	var (
		ep       settings.ClientEndpoint
		kindName string
	)
	if err := scanner.Scan(&ep.Name, &ep.Address, &ep.Contract, &ep.BindingName, &ep.BehaviorName, &kindName); err != nil {
		return nil, err
	}
	kind, err := binding.ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	ep.Kind = kind
	return &ep, nil
}

func scanString(scanner rowScanner) (string, error) {
	var value string
	err := scanner.Scan(&value)
	return value, err
}
