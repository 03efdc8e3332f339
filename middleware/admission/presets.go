package admission

import (
	"time"

	"github.com/jinzhu/copier"

	"admission-gateway/middleware/admission/domain"
)

// Presets cobrem os perfis de tráfego mais comuns. Use direto ou como base:
//
//	lim, err := admission.New(admission.PresetAuth().With(admission.Options{
//		Store: store,
//		Max:   10,
//	}))
//
// Quem fornece um Store externo precisa criá-lo com estratégia/limite/janela
// equivalentes aos do preset (ou aos sobrescritos).

// PresetGlobal é o guarda-chuva por endereço de origem: limite alto, janela
// fixa barata (O(1) por hit), pensado para ficar na frente de tudo.
func PresetGlobal() Options {
	return Options{
		Max:      1000,
		Window:   15 * time.Minute,
		Strategy: domain.FixedWindow,
		KeyBy:    KeyBySource,
	}
}

// PresetAPI é o limite de uso por identidade para endpoints de API comuns,
// com sliding window para não admitir rajada no vira da janela.
func PresetAPI() Options {
	return Options{
		Max:      100,
		Window:   15 * time.Minute,
		Strategy: domain.SlidingWindow,
	}
}

// PresetAuth protege login e afins: limite baixo por origem e só tentativas
// falhas contam (sucesso devolve o hit).
func PresetAuth() Options {
	return Options{
		Max:            5,
		Window:         15 * time.Minute,
		Strategy:       domain.FixedWindow,
		KeyBy:          KeyBySource,
		SkipSuccessful: true,
		Message:        "too many failed attempts, please try again later",
	}
}

// PresetExpensive é para operações caras (relatórios, exports): token bucket
// com janela longa, permitindo rajada curta sem liberar uso sustentado.
func PresetExpensive() Options {
	return Options{
		Max:      10,
		Window:   time.Hour,
		Strategy: domain.TokenBucket,
		KeyBy:    KeyByIdentity,
	}
}

// With mescla overrides por cima do preset e devolve o resultado. Só campos
// não-zero do override têm efeito; para desligar um booleano que o preset
// liga, monte as Options à mão.
func (o Options) With(overrides Options) Options {
	merged := o
	// IgnoreEmpty: campo zero no override preserva o valor do preset
	_ = copier.CopyWithOption(&merged, &overrides, copier.Option{IgnoreEmpty: true})
	return merged
}
