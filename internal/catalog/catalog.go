package catalog

import "errors"

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrServiceNotFound  = errors.New("service type not found")
)

// Provider is a dentist. ID is the stable join key for bookings; Name is display only.
type Provider struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Days      string `json:"availability"`
}

type ServiceType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog is static reference data.
type Catalog struct {
	providers []Provider
	services  []ServiceType
}

func New(providers []Provider, services []ServiceType) *Catalog {
	return &Catalog{providers: providers, services: services}
}

// Default returns the clinic's dentists and consultation types.
func Default() *Catalog {
	return New(
		[]Provider{
			{ID: "hassan-bhojani", Name: "Dr Hassan Bhojani", Specialty: "General Dentistry", Days: "Mon-Fri"},
			{ID: "cosimo-meucci", Name: "Dr Cosimo Meucci", Specialty: "Orthodontics", Days: "Mon, Wed, Fri"},
		},
		[]ServiceType{
			{ID: "checkup", Name: "Dental Checkup", Description: "Comprehensive oral examination and cleaning"},
			{ID: "cleaning", Name: "Teeth Cleaning", Description: "Professional dental cleaning and polishing"},
			{ID: "filling", Name: "Dental Fillings", Description: "Repair cavities and restore teeth"},
			{ID: "extraction", Name: "Tooth Extraction", Description: "Safe and gentle tooth removal"},
			{ID: "whitening", Name: "Teeth Whitening", Description: "Brighten your smile with professional whitening"},
			{ID: "other", Name: "Others", Description: "Other dental services"},
		},
	)
}

func (c *Catalog) Providers() []Provider {
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

func (c *Catalog) Services() []ServiceType {
	out := make([]ServiceType, len(c.services))
	copy(out, c.services)
	return out
}

func (c *Catalog) Provider(id string) (Provider, error) {
	for _, p := range c.providers {
		if p.ID == id {
			return p, nil
		}
	}
	return Provider{}, ErrProviderNotFound
}

// ProviderByName matches on display name. Only the legacy name-keyed store uses it.
func (c *Catalog) ProviderByName(name string) (Provider, error) {
	for _, p := range c.providers {
		if p.Name == name {
			return p, nil
		}
	}
	return Provider{}, ErrProviderNotFound
}

func (c *Catalog) Service(id string) (ServiceType, error) {
	for _, s := range c.services {
		if s.ID == id {
			return s, nil
		}
	}
	return ServiceType{}, ErrServiceNotFound
}
