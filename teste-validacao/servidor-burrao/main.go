package main

import (
	"fmt"
	"net/http"
)

// Upstream propositalmente burro para validar o gateway na mão:
// suba ele, aponte UPSTREAM_URL para cá e martele o gateway com curl.
func main() {
	http.HandleFunc("/api/things", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprintf(w, `{"things":["a","b","c"]}`)
		fmt.Println("Log: upstream atendeu /api/things")
	})
	fmt.Println("Upstream rodando em http://localhost:9090")
	err := http.ListenAndServe(":9090", nil)
	if err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
