// Package capability определяет, в какой среде выполняется вызов, и выбирает
// для него полноценные или ограниченные адаптеры хранилищ.
//
// Выбор всегда явный: Resolver получает Descriptor из Detector или из
// контекста запроса, бизнес-логика окружение сама не определяет.
package capability

import (
	"context"
	"slices"
	"strings"
)

// Capability — возможность среды выполнения.
type Capability string

const (
	// CryptoHashing — доступно медленное хеширование паролей (bcrypt).
	CryptoHashing Capability = "crypto_hashing"
	// PersistentSockets — доступны долгоживущие соединения с базой.
	PersistentSockets Capability = "persistent_sockets"
)

// Required — возможности, без которых полноценные адаптеры выбирать нельзя.
var Required = []Capability{CryptoHashing, PersistentSockets}

// Descriptor описывает среду выполнения одного вызова.
type Descriptor struct {
	Runtime      string
	Capabilities []Capability
}

// NewDescriptor создаёт описание среды из имён возможностей. Дубликаты и
// пустые имена отбрасываются.
func NewDescriptor(runtime string, names ...string) Descriptor {
	d := Descriptor{Runtime: runtime}
	for _, n := range names {
		c := Capability(strings.TrimSpace(n))
		if c == "" || d.Has(c) {
			continue
		}
		d.Capabilities = append(d.Capabilities, c)
	}
	slices.Sort(d.Capabilities)
	return d
}

// Has сообщает, доступна ли возможность c.
func (d Descriptor) Has(c Capability) bool {
	return slices.Contains(d.Capabilities, c)
}

// Without возвращает копию описания без возможности c.
func (d Descriptor) Without(c Capability) Descriptor {
	out := Descriptor{Runtime: d.Runtime}
	for _, have := range d.Capabilities {
		if have != c {
			out.Capabilities = append(out.Capabilities, have)
		}
	}
	return out
}

// Missing возвращает недостающие из Required возможности.
func (d Descriptor) Missing() []Capability {
	var missing []Capability
	for _, c := range Required {
		if !d.Has(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

type descriptorKey struct{}

// WithDescriptor закрепляет за контекстом описание среды. Detector вернёт его
// вместо собственного определения.
func WithDescriptor(ctx context.Context, d Descriptor) context.Context {
	return context.WithValue(ctx, descriptorKey{}, d)
}

// DescriptorFromContext возвращает описание, закреплённое WithDescriptor.
func DescriptorFromContext(ctx context.Context) (Descriptor, bool) {
	d, ok := ctx.Value(descriptorKey{}).(Descriptor)
	return d, ok
}
