package sqlinline

const QSelectIntegrationToken = `--sql 9a625785-31cb-4c3f-ab5f-f9c583a03a61
select token, coalesce(properties->>'model', '')
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 5ecfbddf-9529-4afa-8bdb-74ab45829a1c
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
