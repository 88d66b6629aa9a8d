package catalog

// DefaultTargets is the built-in airport catalog.
func DefaultTargets() []Target {
	return []Target{
		{Code: Wildcard, Location: "Everywhere", Number: 0, Name: "All Airports"},
		{Code: "JFK", Location: "New York, USA", Number: 1, Name: "John F. Kennedy International Airport"},
		{Code: "LHR", Location: "London, UK", Number: 2, Name: "London Heathrow Airport"},
		{Code: "CDG", Location: "Paris, France", Number: 3, Name: "Charles de Gaulle Airport"},
		{Code: "PEK", Location: "Beijing, China", Number: 4, Name: "Beijing Capital International Airport"},
		{Code: "SFO", Location: "San Francisco, USA", Number: 5, Name: "San Francisco International Airport"},
		{Code: "SYD", Location: "Sydney, Australia", Number: 6, Name: "Sydney Kingsford Smith Airport"},
		{Code: "HND", Location: "Tokyo, Japan", Number: 7, Name: "Haneda Airport"},
		{Code: "DXB", Location: "Dubai, UAE", Number: 8, Name: "Dubai International Airport"},
		{Code: "YYZ", Location: "Toronto, Canada", Number: 9, Name: "Toronto Pearson International Airport"},
		{Code: "MUC", Location: "Munich, Germany", Number: 10, Name: "Munich Airport"},
		{Code: "AMS", Location: "Amsterdam, Netherlands", Number: 11, Name: "Amsterdam Airport Schiphol"},
		{Code: "ICN", Location: "Seoul, South Korea", Number: 12, Name: "Incheon International Airport"},
		{Code: "DEL", Location: "New Delhi, India", Number: 13, Name: "Indira Gandhi International Airport"},
		{Code: "MIA", Location: "Miami, USA", Number: 14, Name: "Miami International Airport"},
		{Code: "SIN", Location: "Singapore", Number: 15, Name: "Singapore Changi Airport"},
		{Code: "KUL", Location: "Kuala Lumpur, Malaysia", Number: 16, Name: "Kuala Lumpur International Airport"},
		{Code: "IST", Location: "Istanbul, Turkey", Number: 17, Name: "Istanbul Airport"},
		{Code: "MEX", Location: "Mexico City, Mexico", Number: 18, Name: "Mexico City International Airport"},
		{Code: "SYR", Location: "Syracuse, USA", Number: 19, Name: "Syracuse Hancock International Airport"},
		{Code: "BOM", Location: "Mumbai, India", Number: 20, Name: "Chhatrapati Shivaji Maharaj International Airport"},
	}
}

// Default builds a catalog from DefaultTargets.
func Default() *Catalog {
	c, err := New(DefaultTargets())
	if err != nil {
		panic(err)
	}
	return c
}
