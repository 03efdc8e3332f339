// Package application contém os casos de uso (regras de aplicação) do
// controle de admissão: merge de config sobre defaults, derivação de chave,
// decisão allow/deny e a política de fail-open quando o store falha.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(caller) retorna um Result (allow/deny + Decision).
package application
