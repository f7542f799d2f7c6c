package passes

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	maxNameLen   = 100
	maxRollNoLen = 10
)

// Input is a create/update request body. Absent fields stay nil so partial updates
// can tell "not supplied" from "supplied empty". attended is read-only and not accepted.
type Input struct {
	PassID *string `json:"pass_id" form:"pass_id"`
	Name   *string `json:"name" form:"name"`
	RollNo *string `json:"roll_no" form:"roll_no"`
}

func (in *Input) normalize() {
	for _, f := range []*string{in.PassID, in.Name, in.RollNo} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}

func (in *Input) validateCreate() error {
	in.normalize()
	return fromValidation(validation.ValidateStruct(in,
		validation.Field(&in.PassID, validation.Required),
		validation.Field(&in.Name, validation.Required, validation.RuneLength(0, maxNameLen)),
		validation.Field(&in.RollNo, validation.Required, validation.RuneLength(0, maxRollNoLen)),
	))
}

func (in *Input) validateUpdate(passID string) error {
	in.normalize()
	return fromValidation(validation.ValidateStruct(in,
		validation.Field(&in.PassID, validation.By(immutableID(passID))),
		validation.Field(&in.Name, validation.Required, validation.RuneLength(0, maxNameLen)),
		validation.Field(&in.RollNo, validation.Required, validation.RuneLength(0, maxRollNoLen)),
	))
}

func (in *Input) validatePatch(passID string) error {
	in.normalize()
	return fromValidation(validation.ValidateStruct(in,
		validation.Field(&in.PassID, validation.By(immutableID(passID))),
		validation.Field(&in.Name, validation.NilOrNotEmpty, validation.RuneLength(0, maxNameLen)),
		validation.Field(&in.RollNo, validation.NilOrNotEmpty, validation.RuneLength(0, maxRollNoLen)),
	))
}

// immutableID accepts an absent pass_id or one equal to the path id.
func immutableID(passID string) validation.RuleFunc {
	return func(value interface{}) error {
		v, isNil := validation.Indirect(value)
		if isNil {
			return nil
		}
		if s, _ := v.(string); s != "" && s != passID {
			return errors.New("cannot be changed")
		}
		return nil
	}
}

// apply copies supplied fields onto p.
func (in Input) apply(p EntryPass) EntryPass {
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.RollNo != nil {
		p.RollNo = *in.RollNo
	}
	return p
}
