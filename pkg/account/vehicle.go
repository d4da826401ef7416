package account

import (
	"fmt"
	"strings"

	"github.com/polestar-community/polestar-go/pkg/cache"
)

// Vehicle is a vehicle record from the account's inventory. It is set once by
// [Account.Initialize] and is not updated afterwards.
type Vehicle struct {
	VIN  string
	Data map[string]interface{}
}

func newVehicle(data map[string]interface{}) (*Vehicle, error) {
	vin, _ := data["vin"].(string)
	vin = NormalizeVIN(vin)
	if vin == "" {
		return nil, fmt.Errorf("inventory record has no vin")
	}
	return &Vehicle{VIN: vin, Data: data}, nil
}

// NormalizeVIN trims whitespace and upper-cases vin.
func NormalizeVIN(vin string) string {
	return strings.ToUpper(strings.TrimSpace(vin))
}

// Field resolves a '/'-delimited path in the inventory record.
func (v *Vehicle) Field(path string) (interface{}, bool) {
	return cache.Resolve(v.Data, path)
}

func (v *Vehicle) stringField(path string) string {
	value, ok := v.Field(path)
	if !ok {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// ShortID is the last four characters of the VIN.
func (v *Vehicle) ShortID() string {
	if len(v.VIN) <= 4 {
		return v.VIN
	}
	return v.VIN[len(v.VIN)-4:]
}

// ModelName returns the marketing name of the model, or "Unknown".
func (v *Vehicle) ModelName() string {
	if name := v.stringField("content/model/name"); name != "" {
		return name
	}
	return "Unknown"
}

func (v *Vehicle) ModelYear() string {
	return v.stringField("modelYear")
}

func (v *Vehicle) RegistrationNo() string {
	return v.stringField("registrationNo")
}

func (v *Vehicle) SoftwareVersion() string {
	return v.stringField("software/version")
}

func (v *Vehicle) InternalID() string {
	return v.stringField("internalVehicleIdentifier")
}

func (v *Vehicle) String() string {
	return fmt.Sprintf("%s (%s)", v.VIN, v.ModelName())
}
